// Package ctpio reads and writes the ".ctp" path-store binary format:
// "PATHS" header, sample names, the raw path arena, then a
// (kmer, path-index) table giving each kmer's list head; grounded on
// original_source/src/kmer/path_format.c's documented on-disk layout
// and ctxio's binary.Write/Read idiom.
package ctpio

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"

	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
	"github.com/jeromekelleher/mccortex/pathstore"
)

var magic = [5]byte{'P', 'A', 'T', 'H', 'S'}

// CurrentVersion is the only path file version this package writes or
// accepts.
const CurrentVersion = 1

// MaxColours bounds num_of_cols, matching the original's sanity limit.
const MaxColours = 10000

var (
	ErrBadMagic             = errors.New("ctpio: bad magic, not a PATHS file")
	ErrVersionMismatch      = errors.New("ctpio: unsupported path file version")
	ErrTooManyColours       = errors.New("ctpio: num_of_cols exceeds the sanity limit")
	ErrPathIndexOutOfBounds = errors.New("ctpio: path index beyond num_path_bytes")
)

// Header is the decoded form of a .ctp file's metadata.
type Header struct {
	Version           uint32
	KmerSize          uint32
	NumOfCols         uint32
	NumOfPaths        uint64
	NumPathBytes      uint64
	NumKmersWithPaths uint64
	SampleNames       []string
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

// WriteHeader serialises h to w.
func WriteHeader(w io.Writer, h Header) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	for _, f := range []interface{}{h.Version, h.KmerSize, h.NumOfCols, h.NumOfPaths, h.NumPathBytes, h.NumKmersWithPaths} {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for _, s := range h.SampleNames {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader parses and validates a Header from r, rejecting anything
// not allowed (version != 1, invalid kmer size, more than MaxColours
// colours).
func ReadHeader(r io.Reader) (Header, error) {
	var gotMagic [5]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Header{}, err
	}
	if gotMagic != magic {
		return Header{}, ErrBadMagic
	}

	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return Header{}, err
	}
	if h.Version != CurrentVersion {
		return Header{}, ErrVersionMismatch
	}
	if err := binary.Read(r, binary.LittleEndian, &h.KmerSize); err != nil {
		return Header{}, err
	}
	if !dna.ValidKmerSize(int(h.KmerSize)) {
		return Header{}, errors.Errorf("ctpio: invalid kmer size %d", h.KmerSize)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.NumOfCols); err != nil {
		return Header{}, err
	}
	if h.NumOfCols == 0 {
		return Header{}, errors.New("ctpio: num_of_cols must be > 0")
	}
	if h.NumOfCols > MaxColours {
		return Header{}, ErrTooManyColours
	}
	for _, f := range []*uint64{&h.NumOfPaths, &h.NumPathBytes, &h.NumKmersWithPaths} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
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
	return h, nil
}

// WriteStore writes a complete .ctp file: header, then the store's raw
// arena, then one (kmer, head-index) entry per kmer with a non-nil
// path list.
func WriteStore(w io.Writer, kmerSize int, sampleNames []string, kmers []dna.BinaryKmer, hkeys []hash.HKey, s *pathstore.Store) error {
	if len(kmers) != len(hkeys) {
		return errors.New("ctpio: kmers and hkeys must be parallel slices")
	}

	arena := s.DumpArena()
	var numPaths uint64
	entries := make([]struct {
		bkmer dna.BinaryKmer
		idx   pathstore.PathIndex
	}, 0, len(hkeys))
	for i, hk := range hkeys {
		head := s.Head(hk)
		if head == pathstore.NilIndex {
			continue
		}
		entries = append(entries, struct {
			bkmer dna.BinaryKmer
			idx   pathstore.PathIndex
		}{kmers[i], head})
		s.Walk(hk, func(pathstore.PathIndex, pathstore.Path) bool {
			numPaths++
			return true
		})
	}

	h := Header{
		Version:           CurrentVersion,
		KmerSize:          uint32(kmerSize),
		NumOfCols:         uint32(len(sampleNames)),
		NumOfPaths:        numPaths,
		NumPathBytes:      uint64(len(arena)),
		NumKmersWithPaths: uint64(len(entries)),
		SampleNames:       sampleNames,
	}
	if err := WriteHeader(w, h); err != nil {
		return errors.Wrap(err, "ctpio: writing header")
	}
	if _, err := w.Write(arena); err != nil {
		return errors.Wrap(err, "ctpio: writing arena")
	}

	words := dna.NumWords(kmerSize)
	for _, e := range entries {
		for wi := 0; wi < words; wi++ {
			if err := binary.Write(w, binary.LittleEndian, e.bkmer.Words[wi]); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(e.idx)); err != nil {
			return err
		}
	}
	return nil
}

// LoadedStore is a path store read back from a .ctp file, plus the
// kmer-to-PathIndex table that was on disk: PathIndex values are
// treated as file-local byte offsets into the freshly-loaded store's
// arena, exactly as they were when written (PathIndex values do not
// carry over between a graph's in-memory arena and a file's; see
// DESIGN.md).
type LoadedStore struct {
	Header Header
	Store  *pathstore.Store
	Heads  map[dna.BinaryKmer]pathstore.PathIndex
}

// ReadStore reads a complete .ctp file. The colour count comes from the
// header; capacity sizes the returned Store's per-hkey head table the
// same way pathstore.Alloc does (the caller is expected to pass the
// owning graph's real hash-table capacity). List heads are returned in
// Heads, keyed by kmer; none are set on the Store itself.
func ReadStore(r io.Reader, capacity uint64) (*LoadedStore, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "ctpio: reading header")
	}
	arena := make([]byte, h.NumPathBytes)
	if _, err := io.ReadFull(r, arena); err != nil {
		return nil, errors.Wrap(err, "ctpio: reading arena")
	}

	store := pathstore.Alloc(int(h.KmerSize), int(h.NumOfCols), capacity)
	heads := make(map[dna.BinaryKmer]pathstore.PathIndex, h.NumKmersWithPaths)

	words := dna.NumWords(int(h.KmerSize))
	for i := uint64(0); i < h.NumKmersWithPaths; i++ {
		var bk dna.BinaryKmer
		for wi := 0; wi < words; wi++ {
			if err := binary.Read(r, binary.LittleEndian, &bk.Words[wi]); err != nil {
				return nil, err
			}
		}
		var rawIdx uint64
		if err := binary.Read(r, binary.LittleEndian, &rawIdx); err != nil {
			return nil, err
		}
		idx := pathstore.PathIndex(rawIdx)
		if idx != pathstore.NilIndex && uint64(idx) >= h.NumPathBytes {
			return nil, ErrPathIndexOutOfBounds
		}
		heads[bk] = idx
	}

	store.LoadArena(arena)
	return &LoadedStore{Header: h, Store: store, Heads: heads}, nil
}

// fileHandle binds a grailbio/base/file.File to the ctx it was opened
// with, so Close can satisfy plain io.Closer (same adapter ctxio uses).
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

// Open opens path for reading a .ctp stream.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "ctpio: open %s", path)
	}
	return &readHandle{fileHandle: &fileHandle{f: f, ctx: ctx}, Reader: f.Reader(ctx)}, nil
}

// Create opens path for writing a .ctp stream, creating or truncating it.
func Create(ctx context.Context, path string) (io.WriteCloser, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "ctpio: create %s", path)
	}
	return &writeHandle{fileHandle: &fileHandle{f: f, ctx: ctx}, Writer: f.Writer(ctx)}, nil
}
