package align

import (
	"github.com/grailbio/base/log"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/graph"
	"github.com/jeromekelleher/mccortex/pathstore"
	"github.com/jeromekelleher/mccortex/walker"
)

// Param configures one correction run (CorrectAlnParam).
type Param struct {
	CtxCol, CtpCol int
	InsGapMin      int
	InsGapMax      int
	MaxContext     int
	GapWiggle      int
	GapVariance    float64
	OneWayGapTraverse bool
	UseEndCheck       bool
}

// Stats accumulates gap-bridging outcomes across a correction run
// (CorrectAlnStats).
type Stats struct {
	GapsAttempted int
	GapsBridged   int
	GapsFailed    int
	StepsTaken    int
}

// MaxGap returns the largest gap size (in read bases) Worker will
// attempt to bridge: admissible gap = |x|*variance + wiggle.
func (p Param) MaxGap(x int) int {
	v := float64(x)*p.GapVariance + float64(p.GapWiggle)
	if v < 0 {
		v = 0
	}
	return int(v)
}

// Worker re-walks a frozen graph to fill the gaps an Alignment left
// between matched islands, using path-store hints to disambiguate
// branches exactly as a live GraphWalker would (correct_aln_worker /
// correct_alignment_nxt). When bound to a PathStore it also registers
// the branch choices its own walk makes, so a later run's GraphWalker
// can reuse them (generate_paths / graph_paths_find_or_add_mt).
type Worker struct {
	g      *graph.Graph
	params Param
	lookup walker.PathLookup
	stats  Stats

	pstore *pathstore.Store
}

// NewWorker binds a Worker to graph g; lookup resolves path-store hints
// for a node (see walker.PathLookup).
func NewWorker(g *graph.Graph, params Param, lookup walker.PathLookup) *Worker {
	return &Worker{g: g, params: params, lookup: lookup}
}

// WithPathStore arms w to register every branch choice its gap-bridging
// walk makes into pstore, under ctpcol, so later alignment runs gain
// those choices as path hints (generate_paths_worker_seq). Returns w for
// chaining at construction time.
func (w *Worker) WithPathStore(pstore *pathstore.Store, ctpcol int) *Worker {
	w.pstore = pstore
	w.params.CtpCol = ctpcol
	return w
}

// Stats returns the cumulative statistics gathered so far.
func (w *Worker) Stats() Stats { return w.stats }

// FilledContig is one output segment: a run of nodes with every gap
// either genuinely empty or successfully bridged.
type FilledContig struct {
	Nodes []graph.Node
}

// CorrectNext consumes aln's islands left to right, attempting to
// bridge each gap with a bounded graph walk; on failure it cuts the
// contig there and the caller should call CorrectNext again starting
// from the next island: emit the left portion up to gap_idx, advance
// start_idx past the failed gap. Returns nil once aln is exhausted.
func (w *Worker) CorrectNext(aln *Alignment, startIdx int) (*FilledContig, int) {
	if startIdx >= len(aln.Nodes) {
		return nil, startIdx
	}

	contig := &FilledContig{Nodes: []graph.Node{aln.Nodes[startIdx]}}
	i := startIdx + 1
	for ; i < len(aln.Nodes); i++ {
		gap := aln.Gaps[i]
		if gap == 0 {
			contig.Nodes = append(contig.Nodes, aln.Nodes[i])
			continue
		}

		w.stats.GapsAttempted++
		bridged, ok := w.bridgeGap(contig.Nodes[len(contig.Nodes)-1], aln.Nodes[i], gap)
		if !ok {
			w.stats.GapsFailed++
			log.Printf("[align] failed to bridge a %d-base gap, cutting contig", gap)
			return contig, i // caller resumes at i, the first node of the next island
		}
		w.stats.GapsBridged++
		contig.Nodes = append(contig.Nodes, bridged...)
		contig.Nodes = append(contig.Nodes, aln.Nodes[i])
	}
	return contig, len(aln.Nodes)
}

// branchChoice is one point along a bridging walk where the node had
// more than one out-edge, recording where in the eventual choice
// sequence its disambiguation starts.
type branchChoice struct {
	node     graph.Node
	fromStep int
}

// bridgeGap attempts a one-way walk from anchor toward target, stepping
// at most maxGap+k times under RepeatWalker guard, succeeding only if it
// lands exactly on target (same kmer and orientation). Two-way traversal
// is not implemented: OneWayGapTraverse=false runs the same one-way walk. On
// success, every node along the way whose outgoing branch actually
// needed disambiguating has the rest of the walk's choices registered
// into the bound PathStore, if any (correct_alignment_nxt step 3 /
// graph_paths_find_or_add_mt).
func (w *Worker) bridgeGap(anchor, target graph.Node, gapBases int) ([]graph.Node, bool) {
	maxSteps := w.params.MaxGap(gapBases) + w.g.KmerSize()
	rpt := walker.Alloc(w.g.Capacity(), 8)
	defer rpt.Dealloc()

	gw := walker.New(w.g, w.params.CtxCol, w.params.CtpCol)
	gw.Prime(anchor, w.lookup)

	// Two-way traversal (walking backward from target to meet the forward
	// walk) needs a second frozen-graph walker seeded in reverse; this
	// worker only implements the one-way walk described in
	// correct_alignment_nxt step 2. w.params.OneWayGapTraverse=false
	// still runs the one-way walk rather than failing outright.
	var bridged []graph.Node
	var choices []dna.Nucleotide
	var branches []branchChoice
	cur := anchor
	for step := 0; step < maxSteps; step++ {
		nexts, nucs := w.g.NextNodes(cur, w.params.CtxCol)
		if len(nexts) > 1 {
			branches = append(branches, branchChoice{node: cur, fromStep: step})
		}

		next, ok := gw.Next(rpt)
		if !ok {
			return nil, false
		}
		w.stats.StepsTaken++
		choices = append(choices, chosenNuc(nexts, nucs, next))
		if next == target {
			w.registerChoices(branches, choices)
			return bridged, true
		}
		bridged = append(bridged, next)
		cur = next
	}
	return nil, false
}

// chosenNuc returns which of nexts/nucs matches next, i.e. the base the
// walk actually stepped on to get there.
func chosenNuc(nexts []graph.Node, nucs []dna.Nucleotide, next graph.Node) dna.Nucleotide {
	for i, n := range nexts {
		if n == next {
			return nucs[i]
		}
	}
	return 0
}

// registerChoices packs, for every recorded branch, the suffix of
// choices from that branch onward and stores it under w.params.CtpCol
// at the branch node's kmer, so a future walk through the same junction
// picks up exactly what this one resolved (generate_paths_worker_seq).
func (w *Worker) registerChoices(branches []branchChoice, choices []dna.Nucleotide) {
	if w.pstore == nil {
		return
	}
	for _, b := range branches {
		suffix := choices[b.fromStep:]
		if len(suffix) == 0 {
			continue
		}
		packed := make([]byte, (len(suffix)*2+7)/8)
		for i, nuc := range suffix {
			byteIdx, bitOff := i/4, uint((i%4)*2)
			packed[byteIdx] |= byte(nuc) << bitOff
		}
		w.pstore.FindOrAddMT(b.node.Key, len(suffix), b.node.Orient, packed, w.params.CtpCol)
	}
}
