// Package graph implements the colored de Bruijn graph core: the
// canonical-kmer hash table plus its per-colour edge/coverage/membership
// annotation planes, and the single-edge-choice traversal primitives built
// on top of them.
package graph

import (
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
)

// MaxCovg is the saturating ceiling for per-colour coverage counters.
const MaxCovg = ^uint32(0)

// Config describes the fixed shape of a Graph, fixed for its lifetime:
// none of these dimensions grow after Alloc.
type Config struct {
	KmerSize    int
	NumOfCols   int
	NumEdgeCols int // 1 or NumOfCols
	Capacity    uint64
}

// Graph is the in-memory colored de Bruijn graph: a HashTable of canonical
// kmers plus parallel per-colour annotation planes.
type Graph struct {
	cfg Config
	ht  *hash.Table

	colEdges   []Edges  // flat [hkey*NumEdgeCols + col]
	colCovgs   []uint32 // flat [hkey*NumOfCols + col]
	nodeInCols []uint64 // bitset, capacity*NumOfCols bits
	readStart  []uint64 // bitset, capacity*NumOfCols*2 bits
}

// Alloc allocates a graph with room for cfg.Capacity kmers. Mirrors
// db_graph_alloc: capacity and colour counts are fixed for the graph's
// lifetime.
func Alloc(cfg Config) *Graph {
	if cfg.NumOfCols == 0 {
		log.Panicf("graph: num_of_cols must be > 0")
	}
	if cfg.NumEdgeCols != 1 && cfg.NumEdgeCols != cfg.NumOfCols {
		log.Panicf("graph: num_edge_cols must be 1 or num_of_cols")
	}
	if !dna.ValidKmerSize(cfg.KmerSize) {
		log.Panicf("graph: invalid kmer size %d", cfg.KmerSize)
	}
	g := &Graph{
		cfg: cfg,
		ht:  hash.Alloc(cfg.KmerSize, cfg.Capacity),
	}
	g.allocPlanes()
	log.Printf("[graph] kmer-size: %d; colours: %d; capacity: %d",
		cfg.KmerSize, cfg.NumOfCols, g.ht.Capacity())
	return g
}

func (g *Graph) allocPlanes() {
	cap_ := g.ht.Capacity()
	g.colEdges = make([]Edges, cap_*uint64(g.cfg.NumEdgeCols))
	g.colCovgs = make([]uint32, cap_*uint64(g.cfg.NumOfCols))
	g.nodeInCols = make([]uint64, (cap_*uint64(g.cfg.NumOfCols)+63)/64)
	g.readStart = make([]uint64, (cap_*uint64(g.cfg.NumOfCols)*2+63)/64)
}

// Dealloc releases the graph's backing memory.
func (g *Graph) Dealloc() { g.ht.Dealloc() }

// KmerSize, NumOfCols, NumEdgeCols, Capacity expose the fixed shape.
func (g *Graph) KmerSize() int       { return g.cfg.KmerSize }
func (g *Graph) NumOfCols() int      { return g.cfg.NumOfCols }
func (g *Graph) NumEdgeCols() int    { return g.cfg.NumEdgeCols }
func (g *Graph) Capacity() uint64    { return g.ht.Capacity() }
func (g *Graph) Table() *hash.Table  { return g.ht }

// NodeAssigned reports whether hkey currently holds a kmer.
func (g *Graph) NodeAssigned(hkey hash.HKey) bool { return g.ht.Assigned(hkey) }

// Bkmer returns the canonical BinaryKmer stored at hkey.
func (g *Graph) Bkmer(hkey hash.HKey) dna.BinaryKmer { return g.ht.Kmer(hkey) }

// OrientedBkmer returns the kmer stored at hkey, read in orientation or.
func (g *Graph) OrientedBkmer(hkey hash.HKey, or dna.Orientation) dna.BinaryKmer {
	bk := g.ht.Kmer(hkey)
	if or == dna.Forward {
		return bk
	}
	return bk.ReverseComplement(g.cfg.KmerSize)
}

// FindOrAddNode finds or inserts bkmer's canonical key, serially.
func (g *Graph) FindOrAddNode(bkmer dna.BinaryKmer) (Node, bool) {
	key := dna.Key(bkmer, g.cfg.KmerSize)
	hkey, found := g.ht.FindOrInsert(key)
	return Node{Key: hkey, Orient: dna.OrientationOf(bkmer, key, g.cfg.KmerSize)}, found
}

// FindOrAddNodeMT is the thread-safe variant of FindOrAddNode.
func (g *Graph) FindOrAddNodeMT(bkmer dna.BinaryKmer) (Node, bool, error) {
	key := dna.Key(bkmer, g.cfg.KmerSize)
	hkey, found, err := g.ht.FindOrInsertMT(key)
	if err != nil {
		return NotFoundNode, false, err
	}
	return Node{Key: hkey, Orient: dna.OrientationOf(bkmer, key, g.cfg.KmerSize)}, found, nil
}

// Find looks up bkmer without inserting.
func (g *Graph) Find(bkmer dna.BinaryKmer) Node {
	key := dna.Key(bkmer, g.cfg.KmerSize)
	hkey := g.ht.Find(key)
	if hkey == hash.NotFound {
		return NotFoundNode
	}
	return Node{Key: hkey, Orient: dna.OrientationOf(bkmer, key, g.cfg.KmerSize)}
}

// FindStr is a convenience wrapper parsing str as a kmer_size()-length
// sequence before calling Find.
func (g *Graph) FindStr(str string) (Node, error) {
	bkmer, err := dna.FromString(str, g.cfg.KmerSize)
	if err != nil {
		return NotFoundNode, err
	}
	return g.Find(bkmer), nil
}

func (g *Graph) edgeColOf(col int) int {
	if g.cfg.NumEdgeCols == 1 {
		return 0
	}
	return col
}

// SetEdgesAt overwrites hkey's edge byte for col outright. Meant for
// file loaders restoring a previously-serialised graph verbatim, not
// for use during normal building (use AddEdge/AddEdgeMT there).
func (g *Graph) SetEdgesAt(hkey hash.HKey, col int, e Edges) {
	g.colEdges[uint64(hkey)*uint64(g.cfg.NumEdgeCols)+uint64(g.edgeColOf(col))] = e
}

// EdgesAt returns the Edges byte for hkey in the given edge-plane colour.
func (g *Graph) EdgesAt(hkey hash.HKey, col int) Edges {
	return g.colEdges[uint64(hkey)*uint64(g.cfg.NumEdgeCols)+uint64(g.edgeColOf(col))]
}

// EdgesUnion ORs together hkey's edges across every edge-plane colour;
// used by the healthcheck to validate the full neighbour set.
func (g *Graph) EdgesUnion(hkey hash.HKey) Edges {
	var u Edges
	base := uint64(hkey) * uint64(g.cfg.NumEdgeCols)
	for i := 0; i < g.cfg.NumEdgeCols; i++ {
		u |= g.colEdges[base+uint64(i)]
	}
	return u
}

func firstNuc(g *Graph, n Node) dna.Nucleotide {
	bk := g.OrientedBkmer(n.Key, n.Orient)
	return bk.BaseAt(0, g.cfg.KmerSize)
}

func lastNuc(g *Graph, n Node) dna.Nucleotide {
	bk := g.OrientedBkmer(n.Key, n.Orient)
	return bk.BaseAt(g.cfg.KmerSize-1, g.cfg.KmerSize)
}

// AddEdge adds a directed edge src->tgt in colour col. Palindromic
// self-loops collapse to a single bit.
func (g *Graph) AddEdge(col int, src, tgt Node) {
	rhsNuc := lastNuc(g, tgt)
	lhsNucRev := firstNuc(g, src).Complement()

	ec := uint64(g.edgeColOf(col))
	srcIdx := uint64(src.Key)*uint64(g.cfg.NumEdgeCols) + ec
	g.colEdges[srcIdx] = g.colEdges[srcIdx].Set(src.Orient, rhsNuc)

	tgtIdx := uint64(tgt.Key)*uint64(g.cfg.NumEdgeCols) + ec
	g.colEdges[tgtIdx] = g.colEdges[tgtIdx].Set(tgt.Orient.Opposite(), lhsNucRev)
}

// AddEdgeMT is the thread-safe variant of AddEdge: each edge byte is
// updated under edgeMu, since Edges has no native atomic-OR.
func (g *Graph) AddEdgeMT(col int, src, tgt Node) {
	rhsNuc := lastNuc(g, tgt)
	lhsNucRev := firstNuc(g, src).Complement()
	ec := uint64(g.edgeColOf(col))

	setBitMT(g.colEdges, uint64(src.Key)*uint64(g.cfg.NumEdgeCols)+ec, bitFor(src.Orient, rhsNuc))
	setBitMT(g.colEdges, uint64(tgt.Key)*uint64(g.cfg.NumEdgeCols)+ec, bitFor(tgt.Orient.Opposite(), lhsNucRev))
}

// edgeMu serialises setBitMT's read-modify-write of an edge byte:
// sync/atomic has no 8-bit compare-and-swap.
var edgeMu sync.Mutex

// setBitMT ORs bit into plane[idx] under edgeMu, so concurrent
// AddEdgeMT calls never lose each other's bits.
func setBitMT(plane []Edges, idx uint64, bit Edges) {
	edgeMu.Lock()
	plane[idx] |= bit
	edgeMu.Unlock()
}

// CheckEdges reports whether src->tgt is recorded reciprocally: src has
// the outgoing bit, and tgt has the corresponding incoming bit, matching
// the original's db_graph_check_edges.
func (g *Graph) CheckEdges(src, tgt Node) bool {
	rhsNuc := lastNuc(g, tgt)
	lhsNucRev := firstNuc(g, src).Complement()
	srcU := g.EdgesUnion(src.Key)
	tgtU := g.EdgesUnion(tgt.Key)
	return srcU.Has(src.Orient, rhsNuc) && tgtU.Has(tgt.Orient.Opposite(), lhsNucRev)
}

// IncrementCoverage saturates at MaxCovg.
func (g *Graph) IncrementCoverage(hkey hash.HKey, col int) {
	idx := uint64(hkey)*uint64(g.cfg.NumOfCols) + uint64(col)
	if g.colCovgs[idx] < MaxCovg {
		g.colCovgs[idx]++
	}
}

// IncrementCoverageMT is the atomic, saturating variant.
func (g *Graph) IncrementCoverageMT(hkey hash.HKey, col int) {
	idx := uint64(hkey)*uint64(g.cfg.NumOfCols) + uint64(col)
	p := &g.colCovgs[idx]
	for {
		old := atomic.LoadUint32(p)
		if old == MaxCovg {
			return
		}
		if atomic.CompareAndSwapUint32(p, old, old+1) {
			return
		}
	}
}

// Coverage returns hkey's coverage counter in colour col.
func (g *Graph) Coverage(hkey hash.HKey, col int) uint32 {
	return g.colCovgs[uint64(hkey)*uint64(g.cfg.NumOfCols)+uint64(col)]
}

func bitsetIndex(bits []uint64, i uint64) (word *uint64, mask uint64) {
	return &bits[i/64], 1 << (i % 64)
}

// SetInColour sets hkey's membership bit for col.
func (g *Graph) SetInColour(hkey hash.HKey, col int) {
	i := uint64(hkey)*uint64(g.cfg.NumOfCols) + uint64(col)
	w, m := bitsetIndex(g.nodeInCols, i)
	*w |= m
}

// SetInColourMT is the atomic variant of SetInColour.
func (g *Graph) SetInColourMT(hkey hash.HKey, col int) {
	i := uint64(hkey)*uint64(g.cfg.NumOfCols) + uint64(col)
	w, m := bitsetIndex(g.nodeInCols, i)
	for {
		old := atomic.LoadUint64(w)
		if old&m != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(w, old, old|m) {
			return
		}
	}
}

// HasCol reports whether hkey is a member of colour col.
func (g *Graph) HasCol(hkey hash.HKey, col int) bool {
	i := uint64(hkey)*uint64(g.cfg.NumOfCols) + uint64(col)
	w, m := bitsetIndex(g.nodeInCols, i)
	return *w&m != 0
}

func (g *Graph) readStartIndex(hkey hash.HKey, col int, or dna.Orientation) uint64 {
	return (uint64(hkey)*uint64(g.cfg.NumOfCols)+uint64(col))*2 + uint64(or)
}

// SetReadStart marks (hkey, col, or) as the start of a read, used during
// PCR-duplicate suppression.
func (g *Graph) SetReadStart(hkey hash.HKey, col int, or dna.Orientation) (already bool) {
	i := g.readStartIndex(hkey, col, or)
	w, m := bitsetIndex(g.readStart, i)
	for {
		old := atomic.LoadUint64(w)
		if old&m != 0 {
			return true
		}
		if atomic.CompareAndSwapUint64(w, old, old|m) {
			return false
		}
	}
}

// UpdateNode is the small, common per-read bookkeeping step: mark colour
// membership and bump coverage (db_graph_update_node_mt).
func (g *Graph) UpdateNode(n Node, col int) {
	g.SetInColourMT(n.Key, col)
	g.IncrementCoverageMT(n.Key, col)
}

// Reset clears the hash table and every annotation plane, returning the
// graph to its just-allocated state (db_graph_reset; the original
// exposes a full reset alongside WipeColour).
func (g *Graph) Reset() {
	g.ht.Empty()
	for i := range g.colEdges {
		g.colEdges[i] = 0
	}
	for i := range g.colCovgs {
		g.colCovgs[i] = 0
	}
	for i := range g.nodeInCols {
		g.nodeInCols[i] = 0
	}
	for i := range g.readStart {
		g.readStart[i] = 0
	}
}

// WipeColour zeroes out every annotation for one colour. If NumEdgeCols
// is 1, every colour shares the edge plane, so wiping necessarily wipes
// edges for every colour too; this destructive interaction is resolved
// here by rejecting the combination outright rather than silently
// destroying other colours' edges (see DESIGN.md).
func (g *Graph) WipeColour(col int) error {
	if g.cfg.NumEdgeCols == 1 && g.cfg.NumOfCols > 1 {
		return errWipeSingleEdgePlane
	}
	log.Printf("[graph] wiping colour %d", col)
	cap_ := g.ht.Capacity()
	for hkey := uint64(0); hkey < cap_; hkey++ {
		i := hkey*uint64(g.cfg.NumOfCols) + uint64(col)
		w, m := bitsetIndex(g.nodeInCols, i)
		*w &^= m
		g.colCovgs[i] = 0
	}
	ec := g.edgeColOf(col)
	for hkey := uint64(0); hkey < cap_; hkey++ {
		g.colEdges[hkey*uint64(g.cfg.NumEdgeCols)+uint64(ec)] = 0
	}
	return nil
}

// RandNode returns a uniformly random assigned slot, or NotFound if the
// table is empty (db_graph_rand_node).
func (g *Graph) RandNode(rng *rand.Rand) hash.HKey {
	cap_ := g.ht.Capacity()
	if cap_ == 0 || g.ht.NumAssigned() == 0 {
		return hash.NotFound
	}
	for {
		hkey := hash.HKey(rng.Int63n(int64(cap_)))
		if g.ht.Assigned(hkey) {
			return hkey
		}
	}
}

// DebugString renders one kmer's coverage and edges across every colour,
// in the style of db_graph_print_kmer.
func (g *Graph) DebugString(hkey hash.HKey) string {
	bk := g.Bkmer(hkey)
	s := bk.String(g.cfg.KmerSize)
	for c := 0; c < g.cfg.NumOfCols; c++ {
		s += " " + strconv.Itoa(int(g.Coverage(hkey, c)))
	}
	for c := 0; c < g.cfg.NumOfCols; c++ {
		s += " " + edgesString(g.EdgesAt(hkey, c))
	}
	return s
}

func edgesString(e Edges) string {
	letters := "acgtACGT"
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		if e&(1<<uint(i)) != 0 {
			out[i] = letters[i]
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
