// Package walker implements the two traversal helpers that drive
// single-path graph walking: GraphWalker, which picks the next node at
// an ambiguous branch using path-store hints, and RepeatWalker, which
// keeps it from looping forever on a cyclic graph; grounded on
// original_source/src/kmer/repeat_walker.h.
package walker

import (
	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
)

// RepeatWalker tracks which (node, orientation) pairs a single walker
// thread has already visited, tolerating a revisit as long as its
// fasthash fingerprint has not been seen on an earlier revisit; a
// revisit whose fingerprint is already in the bloom filter is treated
// as a real cycle. State is per-thread: callers must never share one RepeatWalker
// across concurrent walks.
type RepeatWalker struct {
	visited []uint64 // 2 bits per hkey (one per orientation), packed
	bloom   []uint64
	mask    uint32
	nbits   uint
}

func roundWords(nbits uint64) uint64 { return (nbits + 63) / 64 }

// Alloc allocates a RepeatWalker sized for a graph with the given
// hash-table capacity, with a bloom filter of 2^nbits bits (walker_alloc).
func Alloc(capacity uint64, nbits uint) *RepeatWalker {
	if nbits == 0 || nbits > 32 {
		panic("walker: nbits must be in (0, 32]")
	}
	return &RepeatWalker{
		visited: make([]uint64, roundWords(capacity*2)),
		bloom:   make([]uint64, roundWords(uint64(1)<<nbits)),
		mask:    ^uint32(0) >> (32 - nbits),
		nbits:   nbits,
	}
}

// Dealloc releases the walker's backing storage.
func (w *RepeatWalker) Dealloc() {
	w.visited = nil
	w.bloom = nil
}

func visitedBit(hkey hash.HKey, orient dna.Orientation) uint64 {
	return uint64(hkey)*2 + uint64(orient)
}

func bitsetHas(bits []uint64, i uint64) bool {
	return bits[i/64]&(1<<(i%64)) != 0
}

func bitsetSet(bits []uint64, i uint64) {
	bits[i/64] |= 1 << (i % 64)
}

func bitsetClear(bits []uint64, i uint64) {
	bits[i/64] &^= 1 << (i % 64)
}

// AttemptTraverse decides whether it is safe to step onto (hkey, orient)
// as the walker's next move, given the fasthash fingerprint of the
// resulting binary kmer context. The first visit to a node/orientation
// always succeeds; a second visit only succeeds if the fingerprint was
// never seen before in the bloom filter (walker_attempt_traverse).
func (w *RepeatWalker) AttemptTraverse(hkey hash.HKey, orient dna.Orientation, fasthash uint64) bool {
	bit := visitedBit(hkey, orient)
	if !bitsetHas(w.visited, bit) {
		bitsetSet(w.visited, bit)
		return true
	}
	h32 := uint32(fasthash) & w.mask
	collision := bitsetHas(w.bloom, uint64(h32))
	bitsetSet(w.bloom, uint64(h32))
	return !collision
}

// Clear resets all visited and bloom state (walker_clear).
func (w *RepeatWalker) Clear() {
	for i := range w.visited {
		w.visited[i] = 0
	}
	for i := range w.bloom {
		w.bloom[i] = 0
	}
}

// FastClear clears only the visited bits for the given nodes (both
// orientations) plus the whole bloom filter, avoiding a full O(capacity)
// sweep when only a short walk touched a handful of nodes
// (walker_fast_clear).
func (w *RepeatWalker) FastClear(nodes []hash.HKey) {
	for _, hk := range nodes {
		bitsetClear(w.visited, visitedBit(hk, dna.Forward))
		bitsetClear(w.visited, visitedBit(hk, dna.Reverse))
	}
	for i := range w.bloom {
		w.bloom[i] = 0
	}
}
