package graph

import (
	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
)

// NextNode follows the single edge from n labelled nuc in colour col's
// edge plane, inserting nothing: it is a pure graph-shape lookup, not a
// mutating walk. Returns ok=false if n has no such edge, or the
// resulting kmer isn't present (a torn edge, which Healthcheck flags).
func (g *Graph) NextNode(n Node, col int, nuc dna.Nucleotide) (Node, bool) {
	if !g.EdgesAt(n.Key, col).Has(n.Orient, nuc) {
		return NotFoundNode, false
	}
	bk := g.OrientedBkmer(n.Key, n.Orient)
	next := bk.LeftShiftAppend(g.cfg.KmerSize, nuc)
	found := g.Find(next)
	if !found.Found() {
		return NotFoundNode, false
	}
	return found, true
}

// NextNodes returns every node reachable from n in colour col's edge
// plane, alongside the base each edge was labelled with.
func (g *Graph) NextNodes(n Node, col int) ([]Node, []dna.Nucleotide) {
	nucs := g.EdgesAt(n.Key, col).NucsOut(n.Orient)
	nodes := make([]Node, 0, len(nucs))
	kept := make([]dna.Nucleotide, 0, len(nucs))
	for _, nuc := range nucs {
		if next, ok := g.NextNode(n, col, nuc); ok {
			nodes = append(nodes, next)
			kept = append(kept, nuc)
		}
	}
	return nodes, kept
}

// AddAllEdges recomputes every present kmer's edges in colour col from
// scratch by testing all 8 possible neighbours against the table,
// overwriting whatever was there. Mirrors db_graph_add_all_edges, used
// to rebuild edges after a bulk load that only inserted nodes.
func (g *Graph) AddAllEdges(col int) {
	g.ht.Iterate(func(hkey hash.HKey) {
		bk := g.Bkmer(hkey)
		var e Edges
		for nuc := dna.Nucleotide(0); nuc < 4; nuc++ {
			fwd := bk.LeftShiftAppend(g.cfg.KmerSize, nuc)
			if g.Find(fwd).Found() {
				e = e.Set(dna.Forward, nuc)
			}
			rev := bk.RightShiftPrepend(g.cfg.KmerSize, nuc)
			if g.Find(rev).Found() {
				e = e.Set(dna.Reverse, nuc.Complement())
			}
		}
		idx := uint64(hkey)*uint64(g.cfg.NumEdgeCols) + uint64(g.edgeColOf(col))
		g.colEdges[idx] = e
	})
}
