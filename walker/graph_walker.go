package walker

import (
	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/graph"
	"github.com/jeromekelleher/mccortex/hash"
)

// pathCursor tracks one active choice-list record's progress: how many
// of its packed choices have already been consumed.
type pathCursor struct {
	packed []byte
	length int
	pos    int
}

func (c *pathCursor) nextNuc() (dna.Nucleotide, bool) {
	if c.pos >= c.length {
		return 0, false
	}
	byteIdx, bitOff := c.pos/4, uint((c.pos%4)*2)
	nuc := dna.Nucleotide((c.packed[byteIdx] >> bitOff) & 3)
	c.pos++
	return nuc, true
}

// GraphWalker drives single-path traversal of a frozen graph, using any
// path-store records active at the current node to disambiguate
// branches; it has no opinion about cycles, which is RepeatWalker's job.
type GraphWalker struct {
	g      *graph.Graph
	ctxcol int
	ctpcol int

	node    graph.Node
	lookup  PathLookup
	cursors []*pathCursor

	context []graph.Node // nodes visited this walk, for callers (see Context)
}

// New creates a GraphWalker bound to graph g, reading coverage/edges in
// ctxcol and path hints in ctpcol.
func New(g *graph.Graph, ctxcol, ctpcol int) *GraphWalker {
	return &GraphWalker{g: g, ctxcol: ctxcol, ctpcol: ctpcol}
}

// PathLookup resolves the path-store records active at a node so
// GraphWalker doesn't need to import pathstore directly; callers supply
// it via Prime so the walker package stays agnostic to path-store
// internals: a plain function value, not an interface, so there's no
// runtime dispatch in the hot path.
type PathLookup func(n graph.Node) []PathHint

// PathHint is one active choice-list record, already decoded down to
// what the walker needs.
type PathHint struct {
	Packed []byte
	Length int
}

// Prime seeds the walker at node n, attaching any path hints lookup
// returns for it, and remembers lookup so Next can pick up newly
// attached paths at every subsequent node too (graph_walker_prime;
// priming directly at the first node of a known run rather than also
// seeding from preceding context is a recorded deviation, see
// DESIGN.md).
func (w *GraphWalker) Prime(n graph.Node, lookup PathLookup) {
	w.node = n
	w.lookup = lookup
	w.context = []graph.Node{n}
	w.cursors = nil
	w.loadCursors(n)
}

// loadCursors appends a fresh pathCursor, at offset 0, for every hint
// lookup returns at n (graph_walker step 4: "load any new paths
// attached to that node and orientation").
func (w *GraphWalker) loadCursors(n graph.Node) {
	if w.lookup == nil {
		return
	}
	for _, hint := range w.lookup(n) {
		w.cursors = append(w.cursors, &pathCursor{packed: hint.Packed, length: hint.Length})
	}
}

// Current returns the walker's current node.
func (w *GraphWalker) Current() graph.Node { return w.node }

// Context returns every node visited so far this walk, oldest first.
func (w *GraphWalker) Context() []graph.Node { return w.context }

// Fasthash computes a stable fingerprint of bkmer for use as a
// RepeatWalker cycle-detection key (graph_walker_fasthash).
func (w *GraphWalker) Fasthash(bkmer dna.BinaryKmer) uint64 {
	k := w.g.KmerSize()
	words := dna.NumWords(k)
	var buf [dna.MaxBitfields * 8]byte
	for i := 0; i < words; i++ {
		v := bkmer.Words[i]
		off := i * 8
		for b := 0; b < 8; b++ {
			buf[off+b] = byte(v >> (8 * b))
		}
	}
	return farm.Hash64WithSeed(buf[:words*8], 0x6d63636f72746578) // "mccortex"
}

// Next advances the walker by one node. It consumes from any primed
// path hints first; if none apply (or none remain) and the node has a
// single out-edge, it takes that edge; otherwise it fails (dead end or
// unresolved ambiguity). ok is false on termination; rpt, if non-nil,
// gates the step through RepeatWalker cycle avoidance.
func (w *GraphWalker) Next(rpt *RepeatWalker) (graph.Node, bool) {
	nexts, nucs := w.g.NextNodes(w.node, w.ctxcol)
	if len(nexts) == 0 {
		return graph.NotFoundNode, false
	}

	var chosen dna.Nucleotide
	resolved := false
	if len(nexts) == 1 {
		chosen = nucs[0]
		resolved = true
	} else {
		chosen, resolved = w.choiceFromPaths()
		if !resolved {
			log.Printf("[walker] ambiguous branch at node %v with no path consensus", w.node.Key)
			return graph.NotFoundNode, false
		}
	}

	var next graph.Node
	found := false
	for i, nuc := range nucs {
		if nuc == chosen {
			next = nexts[i]
			found = true
			break
		}
	}
	if !found {
		return graph.NotFoundNode, false
	}

	if rpt != nil {
		bk := w.g.OrientedBkmer(next.Key, next.Orient)
		if !rpt.AttemptTraverse(next.Key, next.Orient, w.Fasthash(bk)) {
			return graph.NotFoundNode, false
		}
	}

	w.advanceCursors(chosen)
	w.node = next
	w.context = append(w.context, next)
	w.loadCursors(next)
	return next, true
}

// choiceFromPaths picks the next base among the currently primed
// cursors: every cursor still active must agree, or the majority (most
// supporting paths) wins; an even split that fails to produce a
// majority is an unresolved ambiguity, and the walk fails rather than
// guessing.
func (w *GraphWalker) choiceFromPaths() (dna.Nucleotide, bool) {
	votes := map[dna.Nucleotide]int{}
	for _, c := range w.cursors {
		if c.pos >= c.length {
			continue
		}
		byteIdx, bitOff := c.pos/4, uint((c.pos%4)*2)
		nuc := dna.Nucleotide((c.packed[byteIdx] >> bitOff) & 3)
		votes[nuc]++
	}
	if len(votes) == 0 {
		return 0, false
	}
	var best dna.Nucleotide
	bestCount, tie := -1, false
	for nuc, count := range votes {
		switch {
		case count > bestCount:
			best, bestCount, tie = nuc, count, false
		case count == bestCount:
			tie = true
		}
	}
	if tie {
		return 0, false
	}
	return best, true
}

func (w *GraphWalker) advanceCursors(chosen dna.Nucleotide) {
	live := w.cursors[:0]
	for _, c := range w.cursors {
		if c.pos < c.length {
			byteIdx, bitOff := c.pos/4, uint((c.pos%4)*2)
			nuc := dna.Nucleotide((c.packed[byteIdx] >> bitOff) & 3)
			if nuc == chosen {
				c.pos++
			} else {
				continue // this path disagreed with the step taken; drop it
			}
		}
		if c.pos < c.length {
			live = append(live, c)
		}
	}
	w.cursors = live
}

// Finish tears down the walker's per-walk state (graph_walker_finish);
// the underlying graph and path store are untouched.
func (w *GraphWalker) Finish() {
	w.cursors = nil
	w.context = nil
	w.node = graph.NotFoundNode
	w.lookup = nil
}
