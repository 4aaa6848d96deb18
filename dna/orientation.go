package dna

// Orientation distinguishes the two directed readings (strands) of a
// canonical, undirected kmer.
type Orientation uint8

const (
	// Forward means the dBNode is read as its canonical kmer.
	Forward Orientation = 0
	// Reverse means the dBNode is read as the reverse complement of its
	// canonical kmer.
	Reverse Orientation = 1
)

// Opposite flips Forward<->Reverse.
func (o Orientation) Opposite() Orientation { return o ^ 1 }

func (o Orientation) String() string {
	if o == Forward {
		return "+"
	}
	return "-"
}
