// Package pathstore implements the per-kmer path store: an append-only
// arena of variable-length packed-sequence records, threaded into a
// singly linked list per kmer, that records which paths through the
// graph each colour's reads actually took.
package pathstore

import (
	"sync"
	"sync/atomic"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
)

// PathIndex is a byte offset into the arena. NilIndex means "no path".
type PathIndex uint64

// NilIndex is the sentinel terminating a kmer's path list.
const NilIndex = PathIndex(^uint64(0))

// recordHeader is the fixed-size prefix of every arena record:
//
//	prev     PathIndex  (8 bytes) - previous record in this kmer's list
//	checksum uint64     (8 bytes) - seahash of (lenOrient, packed seq)
//	lenOrient uint32    (4 bytes) - len<<1 | orientation
//
// followed by colsetBytes(numCols) bytes of colour-membership bitset
// and then ceil(len*2/8) bytes of 2-bit packed sequence.
const headerSize = 8 + 8 + 4

// colsetBytes returns the number of bytes needed to hold one membership
// bit per colour: ceil(numCols/8).
func colsetBytes(numCols int) int {
	return (numCols + 7) / 8
}

// Store is the arena-backed path store for one graph. It never grows
// its kmer index (sized to the owning graph's capacity at Alloc time)
// but its byte arena grows geometrically as paths are appended.
type Store struct {
	kmerSize int
	numCols  int

	mu    sync.Mutex // guards arena growth and defragmentation
	arena []byte

	heads []PathIndex // one per hkey, atomically accessed
}

// Alloc creates an empty path store for a graph with the given capacity
// (number of hash table slots) and colour count.
func Alloc(kmerSize, numCols int, capacity uint64) *Store {
	s := &Store{
		kmerSize: kmerSize,
		numCols:  numCols,
		arena:    make([]byte, 0, 1<<20),
		heads:    make([]PathIndex, capacity),
	}
	for i := range s.heads {
		s.heads[i] = NilIndex
	}
	return s
}

// Head returns the most-recently-added path for hkey, or NilIndex.
func (s *Store) Head(hkey hash.HKey) PathIndex {
	return PathIndex(atomic.LoadUint64((*uint64)(&s.heads[hkey])))
}

func (s *Store) setHead(hkey hash.HKey, idx PathIndex) {
	atomic.StoreUint64((*uint64)(&s.heads[hkey]), uint64(idx))
}

// SetHead overwrites hkey's list head outright. Meant for file loaders
// wiring up a freshly-read arena against a graph's hash table, not for
// use during normal building (use AddPacked/FindOrAddMT there).
func (s *Store) SetHead(hkey hash.HKey, idx PathIndex) {
	s.setHead(hkey, idx)
}

// DumpArena returns the store's raw backing bytes, for serialisation.
// The returned slice aliases the store's internal buffer and must not
// be mutated by the caller.
func (s *Store) DumpArena() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena
}

// LoadArena replaces the store's arena wholesale with data read back
// from a file. The caller is responsible for then calling SetHead for
// every kmer the file recorded a list head for.
func (s *Store) LoadArena(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena = data
}

func packLen(length int, orient dna.Orientation) uint32 {
	return uint32(length)<<1 | uint32(orient)
}

func unpackLen(lenOrient uint32) (length int, orient dna.Orientation) {
	return int(lenOrient >> 1), dna.Orientation(lenOrient & 1)
}

func checksum(lenOrient uint32, packedSeq []byte) uint64 {
	buf := make([]byte, 4+len(packedSeq))
	buf[0] = byte(lenOrient)
	buf[1] = byte(lenOrient >> 8)
	buf[2] = byte(lenOrient >> 16)
	buf[3] = byte(lenOrient >> 24)
	copy(buf[4:], packedSeq)
	return seahash.Sum64(buf)
}

// Path is a decoded view of one arena record.
type Path struct {
	Prev   PathIndex
	Length int
	Orient dna.Orientation
	ColSet []byte // bitset, one membership bit per colour
	Packed []byte // 2-bit packed sequence, Length bases
}

// InColour reports whether colour ctpcol's bit is set in p's colset.
func (p Path) InColour(ctpcol int) bool {
	return p.ColSet[ctpcol/8]&(1<<uint(ctpcol%8)) != 0
}

// sizeOf returns the on-arena byte size of a record with the given
// colour count and base length: header, the colset bitset, and the
// packed sequence.
func sizeOf(numCols, length int) int {
	return headerSize + colsetBytes(numCols) + (length*2+7)/8
}

func (s *Store) decode(idx PathIndex) Path {
	rec := s.arena[idx:]
	prev := PathIndex(leUint64(rec[0:8]))
	_ = leUint64(rec[8:16]) // checksum, re-derived by caller if needed
	lenOrient := leUint32(rec[16:20])
	length, orient := unpackLen(lenOrient)
	cb := colsetBytes(s.numCols)
	colsetOff := headerSize
	colset := rec[colsetOff : colsetOff+cb]
	seqOff := colsetOff + cb
	seqLen := (length*2 + 7) / 8
	packed := rec[seqOff : seqOff+seqLen]
	return Path{Prev: prev, Length: length, Orient: orient, ColSet: colset, Packed: packed}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// reserve grows the arena by n bytes under the store lock and returns
// the start offset of the new region. This is the only place the arena
// grows, so it is also where a real implementation would swap in a
// larger mmap region; a Go slice append already amortises that for us.
func (s *Store) reserve(n int) PathIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := PathIndex(len(s.arena))
	s.arena = append(s.arena, make([]byte, n)...)
	return start
}

// AddPacked appends a new path record for hkey unconditionally, without
// checking for duplicates, and threads it onto hkey's list. Returns the
// new record's index.
func (s *Store) AddPacked(hkey hash.HKey, length int, orient dna.Orientation, packedSeq []byte, ctpcol int) PathIndex {
	n := sizeOf(s.numCols, length)
	idx := s.reserve(n)
	rec := s.arena[idx : idx+PathIndex(n)]

	prev := s.Head(hkey)
	putUint64(rec[0:8], uint64(prev))
	lenOrient := packLen(length, orient)
	putUint64(rec[8:16], checksum(lenOrient, packedSeq))
	putUint32(rec[16:20], lenOrient)
	cb := colsetBytes(s.numCols)
	colset := rec[headerSize : headerSize+cb]
	if ctpcol >= 0 {
		colset[ctpcol/8] |= 1 << uint(ctpcol%8)
	}
	copy(rec[headerSize+cb:], packedSeq)

	s.setHead(hkey, idx)
	return idx
}

// FindOrAddMT looks for an existing path on hkey's list matching
// (length, orient, packedSeq); if found it ORs ctpcol's bit into that
// record's colset and returns (idx, false). Otherwise it appends a new
// record and returns (idx, true). This is graph_paths_find_or_add_mt:
// NOT safe to call concurrently for the SAME hkey from multiple
// goroutines without external serialisation (appending to one kmer's
// list is a read-modify-write of its head pointer), but safe across
// distinct hkeys, since each kmer's list, and the arena bump-pointer,
// are independently guarded.
func (s *Store) FindOrAddMT(hkey hash.HKey, length int, orient dna.Orientation, packedSeq []byte, ctpcol int) (PathIndex, bool) {
	lenOrient := packLen(length, orient)
	sum := checksum(lenOrient, packedSeq)

	for idx := s.Head(hkey); idx != NilIndex; {
		rec := s.arena[idx:]
		if leUint64(rec[8:16]) == sum {
			p := s.decode(idx)
			if p.Length == length && p.Orient == orient && bytesEqual(p.Packed, packedSeq) {
				if ctpcol >= 0 {
					p.ColSet[ctpcol/8] |= 1 << uint(ctpcol%8)
				}
				return idx, false
			}
		}
		idx = PathIndex(leUint64(rec[0:8]))
	}
	return s.AddPacked(hkey, length, orient, packedSeq, ctpcol), true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Get decodes the record at idx.
func (s *Store) Get(idx PathIndex) Path { return s.decode(idx) }

// Walk calls fn for every path on hkey's list, most-recently-added
// first, stopping early if fn returns false.
func (s *Store) Walk(hkey hash.HKey, fn func(idx PathIndex, p Path) bool) {
	for idx := s.Head(hkey); idx != NilIndex; {
		p := s.decode(idx)
		if !fn(idx, p) {
			return
		}
		idx = p.Prev
	}
}

// ReleaseColour clears ctpcol's bit on every path in the store. Records
// whose colset becomes empty on every colour become garbage, reclaimed
// by the next Defragment (graph_paths_clean's colset-clearing half).
func (s *Store) ReleaseColour(ctpcol int) {
	cb := colsetBytes(s.numCols)
	for off := 0; off < len(s.arena); {
		lenOrient := leUint32(s.arena[off+16 : off+20])
		length, _ := unpackLen(lenOrient)
		colset := s.arena[off+headerSize : off+headerSize+cb]
		colset[ctpcol/8] &^= 1 << uint(ctpcol%8)
		off += sizeOf(s.numCols, length)
	}
}

// Bytes reports the arena's current length, for diagnostics and for
// deciding when Defragment is worthwhile.
func (s *Store) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.arena)
}

// Defragment rebuilds the arena, dropping any record whose colset is
// empty on every colour and rewriting every kmer's list to point at the
// new, compacted locations. It is NOT safe to call while any other
// goroutine is reading or writing the store (graph_paths_defragment
// carries the same caller obligation).
func (s *Store) Defragment() {
	s.mu.Lock()
	defer s.mu.Unlock()

	newArena := make([]byte, 0, len(s.arena))
	relocate := make(map[PathIndex]PathIndex, len(s.arena)/32)
	cb := colsetBytes(s.numCols)

	// Walk every kmer's list back-to-front (oldest first) so prev
	// pointers can be resolved as we go, then rebuild forward.
	for hk := range s.heads {
		chain := s.chainOldestFirst(hash.HKey(hk))
		prevNew := NilIndex
		for _, idx := range chain {
			p := s.decode(idx)
			if allZero(p.ColSet) {
				continue
			}
			n := sizeOf(s.numCols, p.Length)
			newIdx := PathIndex(len(newArena))
			rec := make([]byte, n)
			putUint64(rec[0:8], uint64(prevNew))
			lenOrient := packLen(p.Length, p.Orient)
			putUint64(rec[8:16], checksum(lenOrient, p.Packed))
			putUint32(rec[16:20], lenOrient)
			copy(rec[headerSize:headerSize+cb], p.ColSet)
			copy(rec[headerSize+cb:], p.Packed)
			newArena = append(newArena, rec...)
			relocate[idx] = newIdx
			prevNew = newIdx
		}
		s.heads[hk] = prevNew
	}

	before := len(s.arena)
	s.arena = newArena
	log.Printf("[pathstore] defragmented: %d -> %d bytes", before, len(newArena))
}

func (s *Store) chainOldestFirst(hkey hash.HKey) []PathIndex {
	var chain []PathIndex
	for idx := s.heads[hkey]; idx != NilIndex; {
		chain = append(chain, idx)
		idx = s.decode(idx).Prev
	}
	// reverse in place: oldest first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
