package ctxio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/graph"
)

func mustBk(t *testing.T, seq string) dna.BinaryKmer {
	t.Helper()
	bk, err := dna.FromString(seq, len(seq))
	require.NoError(t, err)
	return bk
}

// TestWriteReadGraphRoundTrip checks that writing a graph and reading
// it back reproduces every kmer, its coverage, and its edges.
func TestWriteReadGraphRoundTrip(t *testing.T) {
	g := graph.Alloc(graph.Config{KmerSize: 5, NumOfCols: 2, NumEdgeCols: 2, Capacity: 256})
	defer g.Dealloc()

	a, _ := g.FindOrAddNode(mustBk(t, "ACGTA"))
	b, _ := g.FindOrAddNode(mustBk(t, "CGTAC"))
	g.AddEdge(0, a, b)
	g.UpdateNode(a, 0)
	g.UpdateNode(a, 0)
	g.UpdateNode(b, 1)

	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, g, []string{"sample0", "sample1"}))

	got, h, err := ReadGraph(&buf, 2, 256)
	require.NoError(t, err)
	defer got.Dealloc()

	assert.EqualValues(t, 5, h.KmerSize)
	assert.Equal(t, []string{"sample0", "sample1"}, h.SampleNames)

	gotA := got.Find(mustBk(t, "ACGTA"))
	require.True(t, gotA.Found())
	assert.EqualValues(t, 2, got.Coverage(gotA.Key, 0))

	gotB := got.Find(mustBk(t, "CGTAC"))
	require.True(t, gotB.Found())
	assert.EqualValues(t, 1, got.Coverage(gotB.Key, 1))

	assert.True(t, got.CheckEdges(gotA, gotB))
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte("NOTCTX")))
	assert.Equal(t, ErrBadMagic, err)
}
