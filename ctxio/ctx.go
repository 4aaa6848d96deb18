// Package ctxio reads and writes the ".ctx" graph binary format: a
// little-endian header bracketed by a repeated magic string, followed
// by one record per kmer. Grounded on the pack's other
// binary-framed format, encoding/bam's .gbai index
// (encoding/bam/gindex.go): a fixed magic, binary.Write/Read for
// fixed-width fields, and klauspost/compress for the optional gzip
// variant.
package ctxio

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/graph"
	"github.com/jeromekelleher/mccortex/hash"
)

var magic = [6]byte{'C', 'O', 'R', 'T', 'E', 'X'}

// CurrentVersion is the only graph file version this package writes.
const CurrentVersion = 6

// ErrBadMagic is returned when a file's leading magic does not read
// "CORTEX" (a bad trailing magic gives ErrMagicMismatch).
var ErrBadMagic = errors.New("ctxio: bad magic, not a CORTEX graph file")

// ErrMagicMismatch is returned when the header and footer magics
// disagree, signalling a truncated or corrupt file.
var ErrMagicMismatch = errors.New("ctxio: header/footer magic mismatch, file truncated or corrupt")

// CleaningInfo records what error-correction was already applied to a
// colour before it was dumped, so downstream tools don't redo it.
type CleaningInfo struct {
	TipClipping      bool
	RmLowCovgSupernodes bool
	RmLowCovgNodes      bool
	LowCovgSupernodesThreshold uint32
	LowCovgNodesThreshold      uint32
	ClearedAgainst            string
}

// Header is the decoded form of a .ctx file's metadata.
type Header struct {
	Version         uint32
	KmerSize        uint32
	NumOfBitfields   uint32
	NumOfCols       uint32
	MeanReadLengths []uint32
	TotalSeqLoaded  []uint64
	SampleNames     []string
	ErrorRates      [][16]byte
	CleaningInfo    []CleaningInfo
}

// HeaderFromGraph derives a minimal, zeroed-metadata Header from a
// frozen graph, suitable as a starting point for Write.
func HeaderFromGraph(g *graph.Graph, sampleNames []string) Header {
	n := g.NumOfCols()
	h := Header{
		Version:         CurrentVersion,
		KmerSize:        uint32(g.KmerSize()),
		NumOfBitfields:  uint32(dna.NumWords(g.KmerSize())),
		NumOfCols:       uint32(n),
		MeanReadLengths: make([]uint32, n),
		TotalSeqLoaded:  make([]uint64, n),
		SampleNames:     append([]string(nil), sampleNames...),
		ErrorRates:      make([][16]byte, n),
		CleaningInfo:    make([]CleaningInfo, n),
	}
	return h
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteHeader serialises h to w, including the leading magic.
func WriteHeader(w io.Writer, h Header) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	fields := []interface{}{h.Version, h.KmerSize, h.NumOfBitfields, h.NumOfCols}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for _, v := range h.MeanReadLengths {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, v := range h.TotalSeqLoaded {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, s := range h.SampleNames {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	for _, e := range h.ErrorRates {
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	}
	for _, c := range h.CleaningInfo {
		if err := writeCleaning(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeCleaning(w io.Writer, c CleaningInfo) error {
	bools := []bool{c.TipClipping, c.RmLowCovgSupernodes, c.RmLowCovgNodes}
	for _, b := range bools {
		v := uint8(0)
		if b {
			v = 1
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, c.LowCovgSupernodesThreshold); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, c.LowCovgNodesThreshold); err != nil {
		return err
	}
	return writeString(w, c.ClearedAgainst)
}

func readCleaning(r io.Reader) (CleaningInfo, error) {
	var c CleaningInfo
	var v [3]uint8
	for i := range v {
		if err := binary.Read(r, binary.LittleEndian, &v[i]); err != nil {
			return c, err
		}
	}
	c.TipClipping, c.RmLowCovgSupernodes, c.RmLowCovgNodes = v[0] != 0, v[1] != 0, v[2] != 0
	if err := binary.Read(r, binary.LittleEndian, &c.LowCovgSupernodesThreshold); err != nil {
		return c, err
	}
	if err := binary.Read(r, binary.LittleEndian, &c.LowCovgNodesThreshold); err != nil {
		return c, err
	}
	s, err := readString(r)
	if err != nil {
		return c, err
	}
	c.ClearedAgainst = s
	return c, nil
}

// ReadHeader parses a Header from r, including consuming the leading
// magic, and returns ErrBadMagic if it doesn't match.
func ReadHeader(r io.Reader) (Header, error) {
	var gotMagic [6]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Header{}, err
	}
	if gotMagic != magic {
		return Header{}, ErrBadMagic
	}

	var h Header
	for _, f := range []*uint32{&h.Version, &h.KmerSize, &h.NumOfBitfields, &h.NumOfCols} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Header{}, err
		}
	}
	if !dna.ValidKmerSize(int(h.KmerSize)) {
		return Header{}, errors.Errorf("ctxio: invalid kmer size %d", h.KmerSize)
	}

	h.MeanReadLengths = make([]uint32, h.NumOfCols)
	for i := range h.MeanReadLengths {
		if err := binary.Read(r, binary.LittleEndian, &h.MeanReadLengths[i]); err != nil {
			return Header{}, err
		}
	}
	h.TotalSeqLoaded = make([]uint64, h.NumOfCols)
	for i := range h.TotalSeqLoaded {
		if err := binary.Read(r, binary.LittleEndian, &h.TotalSeqLoaded[i]); err != nil {
			return Header{}, err
		}
	}
	h.SampleNames = make([]string, h.NumOfCols)
	for i := range h.SampleNames {
		s, err := readString(r)
		if err != nil {
			return Header{}, err
		}
		h.SampleNames[i] = s
	}
	h.ErrorRates = make([][16]byte, h.NumOfCols)
	for i := range h.ErrorRates {
		if _, err := io.ReadFull(r, h.ErrorRates[i][:]); err != nil {
			return Header{}, err
		}
	}
	h.CleaningInfo = make([]CleaningInfo, h.NumOfCols)
	for i := range h.CleaningInfo {
		c, err := readCleaning(r)
		if err != nil {
			return Header{}, err
		}
		h.CleaningInfo[i] = c
	}

	var footerMagic [6]byte
	if _, err := io.ReadFull(r, footerMagic[:]); err != nil {
		return Header{}, err
	}
	if footerMagic != magic {
		return Header{}, ErrMagicMismatch
	}
	return h, nil
}

// WriteFooterMagic writes the trailing "CORTEX" that brackets the
// header: the magic appears at both the start and the end.
func WriteFooterMagic(w io.Writer) error {
	_, err := w.Write(magic[:])
	return err
}

// Record is one on-disk kmer entry: BinaryKmer | Covg[cols] | Edges[cols].
type Record struct {
	Bkmer dna.BinaryKmer
	Covgs []uint32
	Edges []byte
}

// WriteRecord serialises one kmer record to w.
func WriteRecord(w io.Writer, kmerSize int, rec Record) error {
	words := dna.NumWords(kmerSize)
	for i := 0; i < words; i++ {
		if err := binary.Write(w, binary.LittleEndian, rec.Bkmer.Words[i]); err != nil {
			return err
		}
	}
	for _, c := range rec.Covgs {
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return err
		}
	}
	_, err := w.Write(rec.Edges)
	return err
}

// ReadRecord deserialises one kmer record from r.
func ReadRecord(r io.Reader, kmerSize int, numCols int) (Record, error) {
	words := dna.NumWords(kmerSize)
	var rec Record
	for i := 0; i < words; i++ {
		if err := binary.Read(r, binary.LittleEndian, &rec.Bkmer.Words[i]); err != nil {
			return Record{}, err
		}
	}
	rec.Covgs = make([]uint32, numCols)
	for i := range rec.Covgs {
		if err := binary.Read(r, binary.LittleEndian, &rec.Covgs[i]); err != nil {
			return Record{}, err
		}
	}
	rec.Edges = make([]byte, numCols)
	if _, err := io.ReadFull(r, rec.Edges); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// WriteGraph writes g's header and every kmer it contains, in g's
// colours in order, to w.
func WriteGraph(w io.Writer, g *graph.Graph, sampleNames []string) error {
	bw := bufio.NewWriter(w)
	h := HeaderFromGraph(g, sampleNames)
	if err := WriteHeader(bw, h); err != nil {
		return errors.Wrap(err, "ctxio: writing header")
	}
	if err := WriteFooterMagic(bw); err != nil {
		return err
	}

	numCols := g.NumOfCols()
	var writeErr error
	g.Table().Iterate(func(hkey hash.HKey) {
		if writeErr != nil {
			return
		}
		rec := Record{
			Bkmer: g.Bkmer(hkey),
			Covgs: make([]uint32, numCols),
			Edges: make([]byte, numCols),
		}
		for c := 0; c < numCols; c++ {
			rec.Covgs[c] = g.Coverage(hkey, c)
			rec.Edges[c] = byte(g.EdgesAt(hkey, c))
		}
		writeErr = WriteRecord(bw, g.KmerSize(), rec)
	})
	if writeErr != nil {
		return writeErr
	}
	return bw.Flush()
}

// ReadGraph reads a .ctx stream, allocating a fresh graph sized for
// numOfCols colours and capacity slots, and inserting every record it
// finds (Healthcheck and AddAllEdges are left to the caller, since a
// freshly-loaded graph's edges come directly from the file, not from
// re-derivation).
func ReadGraph(r io.Reader, numEdgeCols int, capacity uint64) (*graph.Graph, Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, Header{}, errors.Wrap(err, "ctxio: reading header")
	}
	g := graph.Alloc(graph.Config{
		KmerSize:    int(h.KmerSize),
		NumOfCols:   int(h.NumOfCols),
		NumEdgeCols: numEdgeCols,
		Capacity:    capacity,
	})
	for {
		rec, err := ReadRecord(r, int(h.KmerSize), int(h.NumOfCols))
		if err == io.EOF {
			break
		}
		if err != nil {
			g.Dealloc()
			return nil, Header{}, errors.Wrap(err, "ctxio: reading record")
		}
		n, _ := g.FindOrAddNode(rec.Bkmer)
		for c := 0; c < int(h.NumOfCols); c++ {
			for i := uint32(0); i < rec.Covgs[c]; i++ {
				g.IncrementCoverage(n.Key, c)
			}
			if rec.Covgs[c] > 0 {
				g.SetInColour(n.Key, c)
			}
			ec := c
			if numEdgeCols == 1 {
				ec = 0
			}
			g.SetEdgesAt(n.Key, ec, graph.Edges(rec.Edges[c]))
		}
	}
	return g, h, nil
}

// CompressedWriter wraps w with a gzip codec, the way the pack's
// .gbai index does for its own binary-framed format
// (encoding/bam/gindex.go's gIndexWriter).
func CompressedWriter(w io.Writer) *gzip.Writer { return gzip.NewWriter(w) }

// CompressedReader opens a gzip-wrapped .ctx.gz stream for reading.
func CompressedReader(r io.Reader) (*gzip.Reader, error) { return gzip.NewReader(r) }

// fileHandle adapts a grailbio/base/file.File (whose Reader/Writer/Close
// all take a context) to the plain io.ReadCloser/io.WriteCloser this
// package's Read/Write functions expect, the way markduplicates and
// pileup/snp bind file.Open/file.Create results to a single ctx.
type fileHandle struct {
	f   file.File
	ctx context.Context
}

func (h *fileHandle) Close() error { return h.f.Close(h.ctx) }

type readHandle struct {
	*fileHandle
	io.Reader
}

type writeHandle struct {
	*fileHandle
	io.Writer
}

// Open opens path (any scheme grailbio/base/file supports) for reading
// a .ctx stream.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "ctxio: open %s", path)
	}
	return &readHandle{fileHandle: &fileHandle{f: f, ctx: ctx}, Reader: f.Reader(ctx)}, nil
}

// Create opens path for writing a .ctx stream, creating or truncating it.
func Create(ctx context.Context, path string) (io.WriteCloser, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "ctxio: create %s", path)
	}
	return &writeHandle{fileHandle: &fileHandle{f: f, ctx: ctx}, Writer: f.Writer(ctx)}, nil
}
