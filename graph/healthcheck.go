package graph

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
)

// HealthReport summarises the defects Healthcheck finds.
type HealthReport struct {
	NumChecked     uint64
	Asymmetric     []hash.HKey // nodes with an edge that isn't reciprocated
	OrphanedInCols []hash.HKey // nodes marked in a colour with zero coverage
}

// OK reports whether the graph passed every check.
func (r HealthReport) OK() bool {
	return len(r.Asymmetric) == 0 && len(r.OrphanedInCols) == 0
}

// Healthcheck scans every assigned node and verifies, for each of its
// recorded outgoing edges (unioned across colours), that the neighbour
// records the matching incoming edge, mirroring the original's
// db_graph_health_check. It also flags nodes marked present in a
// colour with zero recorded coverage in that colour, a loading-bug
// signature the original's health check reports alongside edge tears.
// Work is sharded across the table and fanned out with traverse.Each,
// the same bounded-parallel helper the pack uses for its own per-shard
// scans (encoding/pam/pamwriter.go, encoding/converter/convert.go).
func (g *Graph) Healthcheck() (HealthReport, error) {
	const shards = 64
	capacity := g.ht.Capacity()
	perShard := (capacity + shards - 1) / shards

	type partial struct {
		checked    uint64
		asymmetric []hash.HKey
		orphaned   []hash.HKey
	}
	results := make([]partial, shards)

	err := traverse.Each(shards, func(s int) error {
		lo := uint64(s) * perShard
		hi := lo + perShard
		if hi > capacity {
			hi = capacity
		}
		var p partial
		for idx := lo; idx < hi; idx++ {
			hkey := hash.HKey(idx)
			if !g.ht.Assigned(hkey) {
				continue
			}
			p.checked++
			if !g.checkNodeReciprocal(hkey) {
				p.asymmetric = append(p.asymmetric, hkey)
			}
			for c := 0; c < g.cfg.NumOfCols; c++ {
				if g.HasCol(hkey, c) && g.Coverage(hkey, c) == 0 {
					p.orphaned = append(p.orphaned, hkey)
					break
				}
			}
		}
		results[s] = p
		return nil
	})
	if err != nil {
		return HealthReport{}, err
	}

	var report HealthReport
	for _, p := range results {
		report.NumChecked += p.checked
		report.Asymmetric = append(report.Asymmetric, p.asymmetric...)
		report.OrphanedInCols = append(report.OrphanedInCols, p.orphaned...)
	}
	if !report.OK() {
		log.Printf("[graph] healthcheck found %d asymmetric edges, %d zero-coverage colour memberships out of %d nodes",
			len(report.Asymmetric), len(report.OrphanedInCols), report.NumChecked)
	}
	return report, nil
}

// checkNodeReciprocal walks every edge recorded for hkey (in either
// orientation, unioned across edge-plane colours) and confirms the
// neighbour it points to records the matching back-edge.
func (g *Graph) checkNodeReciprocal(hkey hash.HKey) bool {
	union := g.EdgesUnion(hkey)
	for _, or := range [2]dna.Orientation{dna.Forward, dna.Reverse} {
		n := Node{Key: hkey, Orient: or}
		for _, nuc := range union.NucsOut(or) {
			bk := g.OrientedBkmer(n.Key, n.Orient)
			next := bk.LeftShiftAppend(g.cfg.KmerSize, nuc)
			tgt := g.Find(next)
			if !tgt.Found() {
				return false
			}
			if !g.CheckEdges(n, tgt) {
				return false
			}
		}
	}
	return true
}
