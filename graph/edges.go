package graph

import "github.com/jeromekelleher/mccortex/dna"

// Edges packs, in one byte, which of the four possible next bases exist on
// each strand of a node: bits 0..3 are forward-outgoing {A,C,G,T}, bits
// 4..7 are reverse-outgoing (equivalently forward-incoming).
type Edges uint8

// bitFor returns the bit for (orient, nuc).
func bitFor(orient dna.Orientation, nuc dna.Nucleotide) Edges {
	if orient == dna.Forward {
		return 1 << uint(nuc)
	}
	return 1 << uint(4+nuc)
}

// Set returns e with the (orient, nuc) bit set.
func (e Edges) Set(orient dna.Orientation, nuc dna.Nucleotide) Edges {
	return e | bitFor(orient, nuc)
}

// Has reports whether the (orient, nuc) bit is set.
func (e Edges) Has(orient dna.Orientation, nuc dna.Nucleotide) bool {
	return e&bitFor(orient, nuc) != 0
}

// WithOrientation masks e down to only the nibble relevant to orient,
// right-aligned into the low 4 bits (A,C,G,T order).
func (e Edges) WithOrientation(orient dna.Orientation) Edges {
	if orient == dna.Forward {
		return e & 0x0f
	}
	return (e & 0xf0) >> 4
}

// Count returns the number of set bits (popcount).
func (e Edges) Count() int {
	n := 0
	for e != 0 {
		n += int(e & 1)
		e >>= 1
	}
	return n
}

// NucsOut returns, in ascending nucleotide order, the bases with an
// outgoing edge set for orient.
func (e Edges) NucsOut(orient dna.Orientation) []dna.Nucleotide {
	masked := e.WithOrientation(orient)
	out := make([]dna.Nucleotide, 0, 4)
	for nuc := dna.Nucleotide(0); nuc < 4; nuc++ {
		if masked&(1<<uint(nuc)) != 0 {
			out = append(out, nuc)
		}
	}
	return out
}
