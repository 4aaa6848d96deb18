package pathstore

import (
	"fmt"
	"io"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/graph"
	"github.com/jeromekelleher/mccortex/hash"
)

// ColourPairing holds parallel (ctxcol, ctpcol) arrays for running a
// check, or a correction, across several colours at once
// (GraphPathPairing).
type ColourPairing struct {
	CtxCols []int
	CtpCols []int
}

// CheckValid reports whether following packed for nbases steps from n
// in colour ctxcol stays on real graph edges the whole way
// (graph_paths_check_valid): every base it decodes must match an edge
// recorded at the current node, landing on a node actually present in
// the table.
func CheckValid(n graph.Node, ctxcol int, packed []byte, nbases int, g *graph.Graph) bool {
	cur := n
	for i := 0; i < nbases; i++ {
		byteIdx, bitOff := i/4, uint((i%4)*2)
		nuc := dna.Nucleotide((packed[byteIdx] >> bitOff) & 3)
		next, ok := g.NextNode(cur, ctxcol, nuc)
		if !ok {
			return false
		}
		cur = next
	}
	return true
}

// CheckAllPaths walks every assigned kmer and, for each (ctxcol, ctpcol)
// pair in gp, verifies every path active in that ctpcol with CheckValid
// (graph_paths_check_all_paths). It returns false on the first path
// that does not track a real walk through the graph.
func CheckAllPaths(gp ColourPairing, g *graph.Graph, s *Store) bool {
	for hk := uint64(0); hk < g.Capacity(); hk++ {
		hkey := hash.HKey(hk)
		if !g.NodeAssigned(hkey) {
			continue
		}
		ok := true
		s.Walk(hkey, func(_ PathIndex, p Path) bool {
			for i, ctpcol := range gp.CtpCols {
				if !p.InColour(ctpcol) {
					continue
				}
				n := graph.Node{Key: hkey, Orient: p.Orient}
				if !CheckValid(n, gp.CtxCols[i], p.Packed, p.Length, g) {
					ok = false
					return false
				}
			}
			return true
		})
		if !ok {
			return false
		}
	}
	return true
}

// CheckCounts returns, for diagnostics, the number of live path records
// attached to each colour across the whole store (graph_paths_check_counts,
// which just prints; this returns the counts instead so callers can log
// or assert on them).
func (s *Store) CheckCounts() []uint64 {
	counts := make([]uint64, s.numCols)
	for off := 0; off < len(s.arena); {
		lenOrient := leUint32(s.arena[off+16 : off+20])
		length, _ := unpackLen(lenOrient)
		cb := colsetBytes(s.numCols)
		colset := s.arena[off+headerSize : off+headerSize+cb]
		for col := 0; col < s.numCols; col++ {
			if colset[col/8]&(1<<uint(col%8)) != 0 {
				counts[col]++
			}
		}
		off += sizeOf(s.numCols, length)
	}
	return counts
}

// DumpByKmer writes every kmer with at least one path to w, grouped by
// kmer then orientation, one line per path (db_graph_dump_paths_by_kmer).
func (s *Store) DumpByKmer(w io.Writer, g *graph.Graph) error {
	if _, err := fmt.Fprintln(w, "-------- paths --------"); err != nil {
		return err
	}
	k := g.KmerSize()
	for hk := uint64(0); hk < g.Capacity(); hk++ {
		hkey := hash.HKey(hk)
		if !g.NodeAssigned(hkey) {
			continue
		}
		bkStr := g.Bkmer(hkey).String(k)
		for _, orient := range []dna.Orientation{dna.Forward, dna.Reverse} {
			first := true
			var werr error
			s.Walk(hkey, func(_ PathIndex, p Path) bool {
				if p.Orient != orient {
					return true
				}
				if first {
					if _, werr = fmt.Fprintf(w, "%s:%d\n", bkStr, orient); werr != nil {
						return false
					}
					first = false
				}
				_, werr = fmt.Fprintf(w, "  %s\n", packedToString(p.Packed, p.Length))
				return werr == nil
			})
			if werr != nil {
				return werr
			}
		}
	}
	_, err := fmt.Fprintln(w, "-----------------------")
	return err
}

func packedToString(packed []byte, length int) string {
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		byteIdx, bitOff := i/4, uint((i%4)*2)
		nuc := dna.Nucleotide((packed[byteIdx] >> bitOff) & 3)
		buf[i] = nuc.String()[0]
	}
	return string(buf)
}
