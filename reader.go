package r5tu

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// GraphRef describes a stored graph.
type GraphRef struct {
	GID       uint64 // dense, zero-based, first-seen order
	ID        string // provenance id
	GraphName string
	NTriples  uint64
}

// Reader instances provide lazy, random access to graphs in a file.
// Readers are read-only and safe for concurrent use.
type Reader struct {
	r io.ReaderAt

	header Header
	toc    []TOCEntry
	codec  sectionCodec

	index  int   // TOC position of the index section
	graphs []int // TOC positions of graph sections, by gid
}

// NewReader opens a reader. It validates the header and the TOC but does
// not decode any section.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	h, err := readHeader(r, size)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, h.TOCLength)
	if _, err := r.ReadAt(raw, int64(h.TOCOffset)); err != nil {
		return nil, err
	}

	toc, err := parseTOC(raw, h.TOCOffset)
	if err != nil {
		return nil, err
	}

	index := -1
	var graphs []int
	for pos, ent := range toc {
		switch ent.Kind {
		case KindGraphData:
			graphs = append(graphs, pos)
		case KindIndex:
			if index != -1 {
				return nil, fmt.Errorf("%w: multiple index sections", ErrMalformed)
			}
			index = pos
		}
	}
	if index == -1 {
		return nil, fmt.Errorf("%w: missing index section", ErrMalformed)
	}

	return &Reader{
		r: r,

		header: *h,
		toc:    toc,
		codec:  codecFromHeader(h),

		index:  index,
		graphs: graphs,
	}, nil
}

// Header returns the parsed file header.
func (r *Reader) Header() Header { return r.header }

// TOC returns a copy of the table of contents.
func (r *Reader) TOC() []TOCEntry {
	return append([]TOCEntry(nil), r.toc...)
}

// NumGraphs returns the number of graph sections.
func (r *Reader) NumGraphs() int { return len(r.graphs) }

// EnumerateAll decodes the index and returns all graphs in gid order.
func (r *Reader) EnumerateAll() ([]GraphRef, error) {
	return r.enumerate(nil)
}

// EnumerateByGraphName returns graphs with the exact graph name, in gid
// order. The result is empty when nothing matches.
func (r *Reader) EnumerateByGraphName(name string) ([]GraphRef, error) {
	return r.enumerate(func(g *GraphRef) bool { return g.GraphName == name })
}

// EnumerateByID returns graphs with the exact provenance id, in gid order.
func (r *Reader) EnumerateByID(id string) ([]GraphRef, error) {
	return r.enumerate(func(g *GraphRef) bool { return g.ID == id })
}

// OpenGraph returns an iterator over the triples of a graph. The section
// is read and decoded on the first call to Next; nothing is cached
// between calls to OpenGraph.
// It may return an ErrNotFound error.
func (r *Reader) OpenGraph(gid uint64) (*GraphIterator, error) {
	if gid >= uint64(len(r.graphs)) {
		return nil, fmt.Errorf("%w: graph %d", ErrNotFound, gid)
	}
	return &GraphIterator{r: r, ent: &r.toc[r.graphs[gid]]}, nil
}

// Triples is a shortcut that collects all triples of a graph.
func (r *Reader) Triples(gid uint64) ([]Triple, error) {
	iter, err := r.OpenGraph(gid)
	if err != nil {
		return nil, err
	}
	defer iter.Release()

	var triples []Triple
	for iter.Next() {
		triples = append(triples, iter.Triple())
	}
	return triples, iter.Err()
}

// Verify checks the stored checksum of every section without
// decompressing. It returns the first ErrCorrupt encountered and is a
// no-op for files written without checksums.
func (r *Reader) Verify() error {
	if !r.codec.checksum {
		return nil
	}

	for i := range r.toc {
		ent := &r.toc[i]
		stored, err := r.readStored(ent)
		if err != nil {
			return err
		}
		err = r.codec.Verify(stored, ent)
		releaseBuffer(stored)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) enumerate(match func(*GraphRef) bool) ([]GraphRef, error) {
	ent := &r.toc[r.index]
	stored, err := r.readStored(ent)
	if err != nil {
		return nil, err
	}
	defer releaseBuffer(stored)

	raw, err := r.codec.Decode(stored, ent)
	if err != nil {
		return nil, err
	}

	dec := &decoder{buf: raw}
	count := dec.Uvarint()
	if dec.err != nil {
		return nil, dec.err
	}
	if count != uint64(len(r.graphs)) {
		return nil, fmt.Errorf("%w: index lists %d graphs, toc has %d", ErrMalformed, count, len(r.graphs))
	}

	refs := make([]GraphRef, 0, count)
	for gid := uint64(0); gid < count; gid++ {
		ref := GraphRef{GID: dec.Uvarint()}
		ref.ID = dec.Str()
		ref.GraphName = dec.Str()
		ref.NTriples = dec.Uvarint()
		if dec.err != nil {
			return nil, dec.err
		}
		if ref.GID != gid {
			return nil, fmt.Errorf("%w: index entry %d has gid %d", ErrMalformed, gid, ref.GID)
		}

		if match == nil || match(&ref) {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// readStored reads the stored bytes of a section into a pooled buffer.
func (r *Reader) readStored(ent *TOCEntry) ([]byte, error) {
	stored := fetchBuffer(int(ent.Length))
	if _, err := r.r.ReadAt(stored, int64(ent.Offset)); err != nil {
		releaseBuffer(stored)
		return nil, err
	}
	return stored, nil
}

// --------------------------------------------------------------------

// GraphIterator iterates over the triples of a single graph.
type GraphIterator struct {
	r   *Reader
	ent *TOCEntry

	buf []byte // pooled buffer
	dec *decoder
	cur Triple

	err error
}

// Next advances the cursor to the next triple and returns true if
// successful.
func (i *GraphIterator) Next() bool {
	if i.err != nil {
		return false
	}
	if i.dec == nil {
		if i.err = i.load(); i.err != nil {
			return false
		}
	}
	if !i.dec.More() {
		return false
	}

	i.cur = i.dec.Triple()
	if i.dec.err != nil {
		i.err = i.dec.err
		return false
	}
	return true
}

// Triple returns the current triple.
func (i *GraphIterator) Triple() Triple { return i.cur }

// Err exposes iterator errors, if any.
func (i *GraphIterator) Err() error {
	return i.err
}

// Release releases the iterator and frees up resources. The iterator must
// not be used after this method is called.
func (i *GraphIterator) Release() {
	releaseBuffer(i.buf)
	i.buf = nil
	i.dec = nil
	i.err = errReleased
}

func (i *GraphIterator) load() error {
	stored, err := i.r.readStored(i.ent)
	if err != nil {
		return err
	}

	raw, err := i.r.codec.Decode(stored, i.ent)
	if err != nil {
		releaseBuffer(stored)
		return err
	}

	if i.r.codec.comp == NoCompression {
		i.buf = stored // raw aliases stored
	} else {
		releaseBuffer(stored)
	}
	i.dec = &decoder{buf: raw}
	return nil
}

// --------------------------------------------------------------------

// File is a Reader backed by an open file.
type File struct {
	*Reader
	f *os.File
}

// Open opens the named file for reading.
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	fs, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r, err := NewReader(f, fs.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{Reader: r, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
