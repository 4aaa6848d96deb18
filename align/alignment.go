// Package align implements read-to-graph alignment and gap-bridging
// correction: matching a read's kmers against a frozen graph, then
// using GraphWalker/RepeatWalker to fill the gaps where matching
// failed; grounded on
// original_source/src/kmer/correct_alignment.h and db_alignment.h.
package align

import (
	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/graph"
)

// Alignment is the result of matching successive kmers of a read
// against a graph: a run of matched nodes (islands) with gaps recording
// how many read bases fall between consecutive islands.
type Alignment struct {
	KmerSize int
	Nodes    []graph.Node // matched nodes, in read order
	// Gaps[i] is the number of unmatched read bases between Nodes[i-1]
	// and Nodes[i] (Gaps[0] covers the leading soft-clip).
	Gaps []int
}

// Align walks read's kmers left to right, looking each one up in g's
// colour col, and records the run of matches plus the gap sizes between
// islands of consecutive matches (db_alignment equivalent).
func Align(g *graph.Graph, col int, read string) (*Alignment, error) {
	k := g.KmerSize()
	if len(read) < k {
		return &Alignment{KmerSize: k}, nil
	}

	aln := &Alignment{KmerSize: k}
	unmatchedRun := 0
	for i := 0; i+k <= len(read); i++ {
		bk, err := dna.FromString(read[i:i+k], k)
		if err != nil {
			unmatchedRun++
			continue
		}
		n := g.Find(bk)
		if !n.Found() {
			unmatchedRun++
			continue
		}
		if !g.HasCol(n.Key, col) {
			unmatchedRun++
			continue
		}
		aln.Nodes = append(aln.Nodes, n)
		aln.Gaps = append(aln.Gaps, unmatchedRun)
		unmatchedRun = 0
	}
	return aln, nil
}

// NumIslands reports how many runs of consecutively-matched nodes the
// alignment contains; an alignment with 0 or 1 island has nothing for
// the corrector to bridge.
func (a *Alignment) NumIslands() int {
	n := 0
	for i, gap := range a.Gaps {
		if i == 0 || gap > 0 {
			n++
		}
	}
	return n
}
