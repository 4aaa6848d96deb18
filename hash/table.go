// Package hash implements the fixed-capacity, concurrent, open-addressing
// set of canonical kmers that backs the de Bruijn graph.
//
// The table is physically organised as a flat array of slots partitioned
// into fixed-size buckets (BucketSize slots each), mmap'd anonymously with
// a transparent-hugepage hint the same way fusion's kmerIndex shards are,
// since this is the other large, fixed-capacity table in this codebase.
// Bucket membership is chosen by the low bits of a farmhash of the
// canonical kmer; within a bucket, lookups linearly probe starting at an
// offset picked from the hash bits above those. A bucket that fills up
// overflows into the next bucket (bounded retries) rather than growing —
// this package never resizes once allocated.
package hash

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"

	"github.com/jeromekelleher/mccortex/circular"
	"github.com/jeromekelleher/mccortex/dna"
)

// Key is the canonical kmer an HKey refers to.
type Key = dna.BinaryKmer

// HKey is an index into the table's flat slot array. NotFound is the
// sentinel meaning "absent".
type HKey uint64

// NotFound is returned by Find when the key is absent.
const NotFound = HKey(^uint64(0))

// BucketSize is the number of slots per bucket (64 is the typical size).
const BucketSize = 64

// maxBucketProbe bounds how many buckets an insert/lookup will traverse
// on overflow before giving up. This stands in for the original's
// bucket-level rehash-with-salt scheme; see DESIGN.md for why a bounded
// linear probe was chosen instead.
const maxBucketProbe = 256

// ErrTableFull is returned when an insertion cannot find room within
// maxBucketProbe buckets of the key's home bucket.
var ErrTableFull = errors.New("hash: table full, cannot insert")

const hugePageSize = 2 << 20

// Table is a fixed-capacity concurrent set of canonical BinaryKmers.
type Table struct {
	kmerSize   int
	capacity   uint64
	numBuckets uint64

	raw   []byte // backing mmap region, kept alive for Dealloc
	slots []dna.BinaryKmer

	assigned []uint64 // one bit per slot, atomically accessed
	buckets  []bucketMeta
}

type bucketMeta struct {
	mu    sync.Mutex
	count int32
}

// Alloc creates a table with room for at least capacity kmers of size
// kmerSize. capacity is rounded up to whole buckets, and the bucket count
// then to the next power of two strictly greater than that, so Capacity()
// can be well above the requested value.
func Alloc(kmerSize int, capacity uint64) *Table {
	if !dna.ValidKmerSize(kmerSize) {
		log.Panicf("hash: invalid kmer size %d", kmerSize)
	}
	if capacity == 0 {
		log.Panicf("hash: capacity must be > 0")
	}
	neededBuckets := (capacity + BucketSize - 1) / BucketSize
	// Round up to the next power of two strictly greater than
	// neededBuckets (circular.NextExp2), same as pileup/snp sizes its
	// circular read-name table, so homeBucket can mask instead of mod.
	numBuckets := uint64(circular.NextExp2(int(neededBuckets)))
	capacity = numBuckets * BucketSize

	slotBytes := int(unsafe.Sizeof(dna.BinaryKmer{}))
	size := int(capacity)*slotBytes + hugePageSize
	raw, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		log.Panic(err)
	}
	if err := unix.Madvise(raw, unix.MADV_HUGEPAGE); err != nil {
		// Hugepages are an optimisation, not a correctness requirement: some
		// kernels/containers refuse MADV_HUGEPAGE. Log and continue.
		log.Printf("hash: madvise(MADV_HUGEPAGE) failed, continuing without it: %v", err)
	}

	// Round the base pointer up to a hugepage boundary, same as
	// kmerIndexShard.initShard: it's not clear this helps once we're past
	// Madvise, but at worst it's a noop, and it keeps the two allocators
	// looking alike.
	base := (uintptr(unsafe.Pointer(&raw[0]))-1)/hugePageSize*hugePageSize + hugePageSize
	slots := unsafe.Slice((*dna.BinaryKmer)(unsafe.Pointer(base)), int(capacity))

	t := &Table{
		kmerSize:   kmerSize,
		capacity:   capacity,
		numBuckets: numBuckets,
		raw:        raw,
		slots:      slots,
		assigned:   make([]uint64, (capacity+63)/64),
		buckets:    make([]bucketMeta, numBuckets),
	}
	log.Printf("[hash] kmer-size: %d; capacity: %d; buckets: %d", kmerSize, capacity, numBuckets)
	return t
}

// Dealloc releases the table's backing memory. The table must not be used
// afterwards.
func (t *Table) Dealloc() {
	if t.raw != nil {
		_ = unix.Munmap(t.raw)
		t.raw = nil
		t.slots = nil
	}
}

// Capacity returns the table's fixed slot capacity.
func (t *Table) Capacity() uint64 { return t.capacity }

// KmerSize returns the kmer size the table was allocated for.
func (t *Table) KmerSize() int { return t.kmerSize }

func (t *Table) isAssigned(idx uint64) bool {
	word := atomic.LoadUint64(&t.assigned[idx/64])
	return word&(1<<(idx%64)) != 0
}

func (t *Table) setAssigned(idx uint64) {
	mask := uint64(1) << (idx % 64)
	for {
		old := atomic.LoadUint64(&t.assigned[idx/64])
		if old&mask != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&t.assigned[idx/64], old, old|mask) {
			return
		}
	}
}

func hashKey(key Key, kmerSize int) uint64 {
	w := dna.NumWords(kmerSize)
	var buf [dna.MaxBitfields * 8]byte
	for i := 0; i < w; i++ {
		v := key.Words[i]
		off := i * 8
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
		buf[off+4] = byte(v >> 32)
		buf[off+5] = byte(v >> 40)
		buf[off+6] = byte(v >> 48)
		buf[off+7] = byte(v >> 56)
	}
	return farm.Hash64(buf[:w*8])
}

// numBuckets is always a power of two (see Alloc), so bucketMask turns the
// modulo indexing into a bit-and.
func (t *Table) bucketMask() uint64 { return t.numBuckets - 1 }

func (t *Table) homeBucket(h uint64) uint64 { return h & t.bucketMask() }
func (t *Table) startOffset(h uint64) uint64 {
	return (h / t.numBuckets) % BucketSize
}

// Find looks up key's slot, or returns NotFound. Pure / lock-free.
func (t *Table) Find(key Key) HKey {
	h := hashKey(key, t.kmerSize)
	bucket := t.homeBucket(h)
	start := t.startOffset(h)
	for probe := uint64(0); probe < maxBucketProbe; probe++ {
		b := (bucket + probe) & t.bucketMask()
		base := b * BucketSize
		full := true
		for i := uint64(0); i < BucketSize; i++ {
			off := (start + i) % BucketSize
			idx := base + off
			if !t.isAssigned(idx) {
				full = false
				break
			}
			if dna.Equal(t.slots[idx], key, t.kmerSize) {
				return HKey(idx)
			}
		}
		if !full {
			return NotFound
		}
	}
	return NotFound
}

// FindOrInsert returns key's slot, inserting it if absent. found reports
// whether the key already existed.
//
// The container (not the call) determines thread-safety here: every
// bucket carries its own lock, acquired for the probe+insert regardless
// of caller count, so this single method serves both the serial and the
// "_mt" cases the original exposed separately: concurrency is a
// property of the container, set at alloc time, not an argument per call.
func (t *Table) FindOrInsert(key Key) (hkey HKey, found bool) {
	hkey, found = t.findOrInsert(key)
	return hkey, found
}

// FindOrInsertMT is an alias for FindOrInsert kept for readers mapping
// this package back onto the original's find_or_insert/find_or_insert_mt
// pair; it returns ErrTableFull instead of the NotFound sentinel.
func (t *Table) FindOrInsertMT(key Key) (hkey HKey, found bool, err error) {
	hkey, found = t.findOrInsert(key)
	if hkey == NotFound {
		return NotFound, false, ErrTableFull
	}
	return hkey, found, nil
}

func (t *Table) findOrInsert(key Key) (HKey, bool) {
	h := hashKey(key, t.kmerSize)
	bucket := t.homeBucket(h)
	start := t.startOffset(h)

	for probe := uint64(0); probe < maxBucketProbe; probe++ {
		b := (bucket + probe) & t.bucketMask()
		meta := &t.buckets[b]
		meta.mu.Lock()
		base := b * BucketSize
		for i := uint64(0); i < BucketSize; i++ {
			off := (start + i) % BucketSize
			idx := base + off
			if !t.isAssigned(idx) {
				t.slots[idx] = key
				t.setAssigned(idx)
				meta.count++
				meta.mu.Unlock()
				return HKey(idx), false
			}
			if dna.Equal(t.slots[idx], key, t.kmerSize) {
				meta.mu.Unlock()
				return HKey(idx), true
			}
		}
		// Bucket is full (every slot scanned was assigned and none matched
		// key); overflow into the next bucket.
		meta.mu.Unlock()
	}
	return NotFound, false
}

// Iterate visits every assigned slot in unspecified order, calling fn(hkey)
// for each.
func (t *Table) Iterate(fn func(HKey)) {
	for idx := uint64(0); idx < t.capacity; idx++ {
		if t.isAssigned(idx) {
			fn(HKey(idx))
		}
	}
}

// Empty marks every slot unassigned, in O(capacity).
func (t *Table) Empty() {
	for i := range t.assigned {
		atomic.StoreUint64(&t.assigned[i], 0)
	}
	for i := range t.buckets {
		t.buckets[i].count = 0
	}
}

// Kmer returns the canonical kmer stored at hkey. hkey must be assigned.
func (t *Table) Kmer(hkey HKey) dna.BinaryKmer { return t.slots[hkey] }

// Assigned reports whether hkey currently holds a kmer.
func (t *Table) Assigned(hkey HKey) bool { return t.isAssigned(uint64(hkey)) }

// NumAssigned counts assigned slots in O(capacity); intended for tests and
// diagnostics, not hot paths.
func (t *Table) NumAssigned() uint64 {
	var n uint64
	t.Iterate(func(HKey) { n++ })
	return n
}
