package align

import (
	"github.com/jeromekelleher/mccortex/graph"
	"github.com/jeromekelleher/mccortex/pathstore"
	"github.com/jeromekelleher/mccortex/walker"
)

// ColourPairing is pathstore.ColourPairing, re-exported here so callers
// that only care about batch correction don't need a direct pathstore
// import (GraphPathPairing, as used by generate_paths' per-task loop).
type ColourPairing = pathstore.ColourPairing

// CorrectAlignmentBatch runs gap-bridging correction for the same
// Alignment independently across every (ctxcol, ctpcol) pair in gp,
// each with its own Worker sharing g, lookup and pstore (generate_paths:
// one GenPathWorker task per colour pairing, driven over the same
// reads). Each colour's Worker registers its own disambiguated branch
// choices back into pstore under its ctpcol. Returns, per pairing
// index, every contig CorrectNext produced and the Worker's final
// Stats.
func CorrectAlignmentBatch(g *graph.Graph, gp ColourPairing, lookup walker.PathLookup, pstore *pathstore.Store, base Param, aln *Alignment) ([][]*FilledContig, []Stats) {
	contigs := make([][]*FilledContig, len(gp.CtxCols))
	stats := make([]Stats, len(gp.CtxCols))

	for i, ctxcol := range gp.CtxCols {
		params := base
		params.CtxCol = ctxcol
		params.CtpCol = gp.CtpCols[i]

		w := NewWorker(g, params, lookup)
		if pstore != nil {
			w.WithPathStore(pstore, params.CtpCol)
		}

		var runs []*FilledContig
		for startIdx := 0; startIdx < len(aln.Nodes); {
			contig, next := w.CorrectNext(aln, startIdx)
			if contig == nil {
				break
			}
			runs = append(runs, contig)
			startIdx = next
		}
		contigs[i] = runs
		stats[i] = w.Stats()
	}
	return contigs, stats
}
