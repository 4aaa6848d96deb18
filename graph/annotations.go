package graph

import (
	"errors"

	"github.com/jeromekelleher/mccortex/hash"
)

// errWipeSingleEdgePlane is returned by WipeColour when num_edge_cols==1
// and num_of_cols>1: wiping one colour's edges would silently destroy
// every other colour's edges too, since they share a single plane; this
// is resolved by rejecting rather than allowing the destructive wipe.
var errWipeSingleEdgePlane = errors.New("graph: cannot wipe a single colour's edges when num_edge_cols=1 and num_of_cols>1")

// ColourStats summarises one colour's footprint across the graph: how
// many kmers it touches and the mean coverage over those kmers. This is
// the kind of per-sample summary db_graph_health_check and the cortex
// CLI tools print after loading.
type ColourStats struct {
	NumKmers   uint64
	MeanCoverg float64
}

// Stats computes ColourStats for col by scanning every assigned slot.
// O(capacity); intended for end-of-load reporting, not hot paths.
func (g *Graph) Stats(col int) ColourStats {
	var stats ColourStats
	var total uint64
	g.ht.Iterate(func(hkey hash.HKey) {
		if !g.HasCol(hkey, col) {
			return
		}
		stats.NumKmers++
		total += uint64(g.Coverage(hkey, col))
	})
	if stats.NumKmers > 0 {
		stats.MeanCoverg = float64(total) / float64(stats.NumKmers)
	}
	return stats
}
