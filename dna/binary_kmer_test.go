package dna

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringRoundTrip(t *testing.T) {
	for _, seq := range []string{"ACGTA", "TACGT", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "CGT"} {
		k := len(seq)
		bk, err := FromString(seq, k)
		require.NoError(t, err)
		assert.Equal(t, seq, bk.String(k))
	}
}

func TestFromStringInvalidBase(t *testing.T) {
	_, err := FromString("ACGTX", 5)
	require.Error(t, err)
	var ib *ErrInvalidBase
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, byte('X'), ib.Char)
	assert.Equal(t, 4, ib.Pos)
}

func TestReverseComplementInvolution(t *testing.T) {
	for _, seq := range []string{"ACGTA", "GATTACA", "TTTTTAAAAACCCCCGGGGG"} {
		k := len(seq)
		bk, err := FromString(seq, k)
		require.NoError(t, err)
		rc := bk.ReverseComplement(k)
		rc2 := rc.ReverseComplement(k)
		assert.Equal(t, seq, rc2.String(k))
		assert.Equal(t, ReverseComplementString(seq), rc.String(k))
	}
}

// TestCanonicalForm checks that for every BinaryKmer b, key(b) <=
// key(revcomp(b)), and an odd k never ties.
func TestCanonicalForm(t *testing.T) {
	seqs := []string{"ACGTA", "TACGT", "AAACC", "GGGTT", "CGTAG"}
	for _, seq := range seqs {
		k := len(seq)
		bk, err := FromString(seq, k)
		require.NoError(t, err)
		rc := bk.ReverseComplement(k)
		key := Key(bk, k)
		keyRC := Key(rc, k)
		assert.True(t, Equal(key, keyRC, k), "key(b) must equal key(revcomp(b))")
		assert.False(t, Equal(bk, rc, k), "no tie possible for odd k")
	}
}

func TestLeftShiftAppendAndRightShiftPrepend(t *testing.T) {
	bk, err := FromString("ACGTA", 5)
	require.NoError(t, err)
	next := bk.LeftShiftAppend(5, C)
	assert.Equal(t, "CGTAC", next.String(5))

	prev := bk.RightShiftPrepend(5, G)
	assert.Equal(t, "GACGT", prev.String(5))
}

func TestSetFirstLastNuc(t *testing.T) {
	bk, err := FromString("ACGTA", 5)
	require.NoError(t, err)
	bk2 := bk.SetFirstNuc(5, T)
	assert.Equal(t, "TCGTA", bk2.String(5))
	bk3 := bk.SetLastNuc(5, G)
	assert.Equal(t, "ACGTG", bk3.String(5))
}

func TestValidKmerSize(t *testing.T) {
	assert.True(t, ValidKmerSize(3))
	assert.True(t, ValidKmerSize(31))
	assert.False(t, ValidKmerSize(4), "even k must be rejected")
	assert.False(t, ValidKmerSize(1), "below minimum")
	assert.False(t, ValidKmerSize(MaxKmerSize+2), "above maximum")
}

// TestWideKmer exercises multi-word packing (k > 32).
func TestWideKmer(t *testing.T) {
	seq := ""
	for i := 0; i < 65; i++ {
		seq += "ACGT"[i%4 : i%4+1]
	}
	k := len(seq)
	require.True(t, ValidKmerSize(k) || k%2 == 0)
	bk, err := FromString(seq, k)
	require.NoError(t, err)
	assert.Equal(t, seq, bk.String(k))
	rc := bk.ReverseComplement(k)
	assert.Equal(t, ReverseComplementString(seq), rc.String(k))
}
