package dna

import (
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/jeromekelleher/mccortex/biosimd"
)

// ReverseComplementString reverse-complements an ASCII ACGT(N) string.
// Ambiguous bases map to 'N', matching biosimd.ReverseComp8NoValidate.
func ReverseComplementString(seq string) string {
	buf := make([]byte, len(seq))
	biosimd.ReverseComp8NoValidate(buf, gunsafe.StringToBytes(seq))
	return gunsafe.BytesToString(buf)
}
