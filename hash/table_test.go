package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeromekelleher/mccortex/dna"
)

func mustKey(t *testing.T, seq string) dna.BinaryKmer {
	t.Helper()
	bk, err := dna.FromString(seq, len(seq))
	require.NoError(t, err)
	return dna.Key(bk, len(seq))
}

// TestInsertCanonicalise checks that inserting a kmer and its reverse
// complement yields a single table entry.
func TestInsertCanonicalise(t *testing.T) {
	tbl := Alloc(5, BucketSize)
	defer tbl.Dealloc()

	k1 := mustKey(t, "ACGTA")
	k2 := mustKey(t, "TACGT") // reverse complement of ACGTA
	assert.True(t, dna.Equal(k1, k2, 5))

	h1, found1 := tbl.FindOrInsert(k1)
	require.False(t, found1)
	h2, found2 := tbl.FindOrInsert(k2)
	require.True(t, found2)
	assert.Equal(t, h1, h2)
	assert.EqualValues(t, 1, tbl.NumAssigned())
}

// TestFindOrInsertIdempotent checks that re-inserting the same kmer
// returns the same handle and leaves the table size unchanged.
func TestFindOrInsertIdempotent(t *testing.T) {
	tbl := Alloc(5, BucketSize)
	defer tbl.Dealloc()

	k := mustKey(t, "ACGTA")
	h1, found1 := tbl.FindOrInsert(k)
	assert.False(t, found1)
	h2, found2 := tbl.FindOrInsert(k)
	assert.True(t, found2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, tbl.Find(k))
}

func TestFindAbsent(t *testing.T) {
	tbl := Alloc(5, BucketSize)
	defer tbl.Dealloc()
	assert.Equal(t, NotFound, tbl.Find(mustKey(t, "ACGTA")))
}

func TestIterateVisitsEveryAssignedSlot(t *testing.T) {
	tbl := Alloc(5, 4*BucketSize)
	defer tbl.Dealloc()

	seqs := []string{"ACGTA", "CCCGG", "TTTAA", "GGGCC", "AAAAA"}
	inserted := map[dna.BinaryKmer]bool{}
	for _, s := range seqs {
		k := mustKey(t, s)
		tbl.FindOrInsert(k)
		inserted[k] = true
	}

	seen := map[dna.BinaryKmer]bool{}
	tbl.Iterate(func(hk HKey) {
		seen[tbl.Kmer(hk)] = true
	})
	assert.Equal(t, len(inserted), len(seen))
	for k := range inserted {
		assert.True(t, seen[k])
	}
}

func TestEmpty(t *testing.T) {
	tbl := Alloc(5, BucketSize)
	defer tbl.Dealloc()
	k := mustKey(t, "ACGTA")
	tbl.FindOrInsert(k)
	require.EqualValues(t, 1, tbl.NumAssigned())
	tbl.Empty()
	assert.EqualValues(t, 0, tbl.NumAssigned())
	assert.Equal(t, NotFound, tbl.Find(k))
}

func TestConcurrentFindOrInsertMT(t *testing.T) {
	tbl := Alloc(7, 16*BucketSize)
	defer tbl.Dealloc()

	seqs := []string{"ACGTACG", "CCCGGAT", "TTTAACG", "GGGCCAT", "AAAAACG", "TGCATGC"}
	keys := make([]dna.BinaryKmer, len(seqs))
	for i, s := range seqs {
		keys[i] = mustKey(t, s)
	}

	const workers = 8
	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			for _, k := range keys {
				_, _, err := tbl.FindOrInsertMT(k)
				require.NoError(t, err)
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	perKey := map[dna.BinaryKmer]map[HKey]bool{}
	for _, k := range keys {
		perKey[k] = map[HKey]bool{}
	}
	for _, k := range keys {
		hk := tbl.Find(k)
		require.NotEqual(t, NotFound, hk)
		perKey[k][hk] = true
	}
	for _, k := range keys {
		assert.Len(t, perKey[k], 1, "every successful find_or_insert_mt of the same kmer must return the same slot")
	}
}
