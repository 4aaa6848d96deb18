package dna

import (
	"fmt"
	"strings"
)

// MaxBitfields is the number of 64-bit words backing a BinaryKmer. Four
// words give a maximum kmer size of 127 bases (2 bits/base), matching the
// largest build configuration this package needs to support.
const MaxBitfields = 4

// MaxKmerSize is the largest k this package can pack.
const MaxKmerSize = MaxBitfields*32 - 1 // keep k odd-capable, see ValidKmerSize

// MinKmerSize is the smallest k the graph engine supports.
const MinKmerSize = 3

// BinaryKmer is a 2-bits-per-base packing of a k-base DNA sequence.
//
// Bases are packed most-significant-bit-first: base 0 (the first base of
// the sequence) occupies the highest-order 2 bits of the packed value,
// base k-1 the lowest-order 2 bits. Words are stored little-endian by
// significance: Words[0] holds the least-significant 64 bits.
//
// This layout makes integer comparison of Words (scanned from the
// highest active word down to Words[0]) equivalent to lexicographic
// comparison of the base sequence, which Key/Less below rely on.
type BinaryKmer struct {
	Words [MaxBitfields]uint64
}

// NumWords returns how many words of a BinaryKmer are significant for a
// kmer of size k.
func NumWords(k int) int { return (2*k + 63) / 64 }

// topWordBits returns the number of valid (non-zero-padded) bits in the
// most significant active word for a kmer of size k.
func topWordBits(k int) uint {
	bits := uint(2*k) % 64
	if bits == 0 {
		bits = 64
	}
	return bits
}

func topWordMask(k int) uint64 {
	bits := topWordBits(k)
	if bits == 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// ValidKmerSize reports whether k is an acceptable, odd kmer size in
// [MinKmerSize, MaxKmerSize]. k must be odd so that the canonical choice
// between a kmer and its reverse complement is never a tie.
func ValidKmerSize(k int) bool {
	return k >= MinKmerSize && k <= MaxKmerSize && k%2 == 1
}

// FromString packs seq (length k, alphabet ACGT case-insensitive) into a
// BinaryKmer.
func FromString(seq string, k int) (BinaryKmer, error) {
	if len(seq) != k {
		return BinaryKmer{}, fmt.Errorf("dna: sequence length %d != kmer size %d", len(seq), k)
	}
	var bk BinaryKmer
	for i := 0; i < k; i++ {
		nuc, ok := NucleotideFromBase(seq[i])
		if !ok {
			return BinaryKmer{}, &ErrInvalidBase{Char: seq[i], Pos: i}
		}
		setBase(&bk, i, k, nuc)
	}
	return bk, nil
}

// offsetOf returns the (word, bitOffset) pair for base index i (0-based
// from the start of the kmer) in a kmer of size k.
func offsetOf(i, k int) (word int, bit uint) {
	total := (k - 1 - i) * 2
	return total / 64, uint(total % 64)
}

func setBase(bk *BinaryKmer, i, k int, nuc Nucleotide) {
	w, b := offsetOf(i, k)
	bk.Words[w] |= uint64(nuc) << b
}

// BaseAt returns the base at position i (0-based) of the kmer.
func (bk BinaryKmer) BaseAt(i, k int) Nucleotide {
	w, b := offsetOf(i, k)
	return Nucleotide((bk.Words[w] >> b) & 3)
}

// String renders the kmer as an uppercase ACGT string.
func (bk BinaryKmer) String(k int) string {
	var sb strings.Builder
	sb.Grow(k)
	for i := 0; i < k; i++ {
		sb.WriteString(bk.BaseAt(i, k).String())
	}
	return sb.String()
}

// ReverseComplement returns the reverse complement of bk.
func (bk BinaryKmer) ReverseComplement(k int) BinaryKmer {
	var rc BinaryKmer
	for i := 0; i < k; i++ {
		setBase(&rc, k-1-i, k, bk.BaseAt(i, k).Complement())
	}
	return rc
}

// Less reports whether a sorts before b as a packed integer, which
// (by our MSB-first packing) is equivalent to lexicographic order of the
// unpacked base sequence.
func Less(a, b BinaryKmer, k int) bool {
	w := NumWords(k)
	for i := w - 1; i >= 0; i-- {
		if a.Words[i] != b.Words[i] {
			return a.Words[i] < b.Words[i]
		}
	}
	return false
}

// Equal reports bitwise equality over the active words of a kmer of size k.
func Equal(a, b BinaryKmer, k int) bool {
	w := NumWords(k)
	for i := 0; i < w; i++ {
		if a.Words[i] != b.Words[i] {
			return false
		}
	}
	return true
}

// Key returns the canonical form of bk: the lexicographically smaller of
// bk and its reverse complement. Since k is required to be odd, bk is
// never palindromic, so this choice is always well defined.
func Key(bk BinaryKmer, k int) BinaryKmer {
	rc := bk.ReverseComplement(k)
	if Less(rc, bk, k) {
		return rc
	}
	return bk
}

// Orientation of bk relative to its canonical key: Forward if bk is
// already canonical, Reverse if the reverse complement is canonical.
func OrientationOf(bk BinaryKmer, key BinaryKmer, k int) Orientation {
	if Equal(bk, key, k) {
		return Forward
	}
	return Reverse
}

// shiftLeft2 shifts the w active words of a kmer-sized integer left by 2
// bits (base-pair granularity), discarding bits shifted out of the top
// word. It returns nothing: the base dropped off the front of the window
// stays above the kmer's width until the caller masks it off (see
// LeftShiftAppend).
func shiftLeft2(words *[MaxBitfields]uint64, w int) {
	carry := uint64(0)
	for i := 0; i < w; i++ {
		next := words[i] >> 62
		words[i] = (words[i] << 2) | carry
		carry = next
	}
}

// shiftRight2 shifts the w active words right by 2 bits, carrying zeros
// in at the top.
func shiftRight2(words *[MaxBitfields]uint64, w int) {
	carry := uint64(0)
	for i := w - 1; i >= 0; i-- {
		next := words[i] & 3
		words[i] = (words[i] >> 2) | (carry << 62)
		carry = next
	}
}

// LeftShiftAppend drops the first base of bk and appends nuc as the new
// last base, returning the new k-base window. Used when extending a walk
// forward by one base.
func (bk BinaryKmer) LeftShiftAppend(k int, nuc Nucleotide) BinaryKmer {
	out := bk
	w := NumWords(k)
	shiftLeft2(&out.Words, w)
	out.Words[0] |= uint64(nuc)
	out.Words[w-1] &= topWordMask(k)
	return out
}

// RightShiftPrepend drops the last base of bk and prepends nuc as the new
// first base. Used when extending a walk backward by one base.
func (bk BinaryKmer) RightShiftPrepend(k int, nuc Nucleotide) BinaryKmer {
	out := bk
	w := NumWords(k)
	shiftRight2(&out.Words, w)
	setBase(&out, 0, k, nuc)
	return out
}

// SetFirstNuc returns a copy of bk with base 0 replaced by nuc.
func (bk BinaryKmer) SetFirstNuc(k int, nuc Nucleotide) BinaryKmer {
	out := bk
	w, b := offsetOf(0, k)
	out.Words[w] = (out.Words[w] &^ (3 << b)) | (uint64(nuc) << b)
	return out
}

// SetLastNuc returns a copy of bk with base k-1 replaced by nuc.
func (bk BinaryKmer) SetLastNuc(k int, nuc Nucleotide) BinaryKmer {
	out := bk
	out.Words[0] = (out.Words[0] &^ 3) | uint64(nuc)
	return out
}
