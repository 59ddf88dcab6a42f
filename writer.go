package r5tu

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"time"
)

// WriterOptions define writer specific options.
type WriterOptions struct {
	// The compression codec to use for every section.
	// Default: NoCompression.
	Compression Compression

	// NoChecksum disables CRC-32 checksums of stored sections.
	// Default: false (checksums enabled).
	NoChecksum bool

	// SpillThreshold is the number of buffered, not yet sealed, bytes
	// above which the largest graph buffer is moved to a temporary file.
	// Default: 0 (never spill).
	SpillThreshold int

	// TempDir is the directory for spill files.
	// Default: os.TempDir().
	TempDir string

	// Logger receives debug records.
	// Default: discards all output.
	Logger *slog.Logger

	// Now returns the creation time recorded in the header.
	// Default: time.Now.
	Now func() time.Time
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if !oo.Compression.isValid() {
		oo.Compression = NoCompression
	}
	if oo.SpillThreshold < 0 {
		oo.SpillThreshold = 0
	}
	if oo.Logger == nil {
		oo.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if oo.Now == nil {
		oo.Now = time.Now
	}

	return &oo
}

func (o *WriterOptions) flags() uint16 {
	flags := o.Compression.flags()
	if !o.NoChecksum {
		flags |= FlagChecksum
	}
	return flags
}

type graphKey struct {
	ID, GraphName string
}

// graphBuffer holds the encoded triples of a graph until finalize.
type graphBuffer struct {
	graphKey
	n       uint64       // number of triples
	buf     []byte       // in-memory tail
	spilled []spillChunk // evicted head, in order
}

// Writer instances can write a file. A writer exclusively owns its target
// and is consumed by Finalize.
type Writer struct {
	w io.WriteSeeker
	f *os.File // set when the writer created the file
	o *WriterOptions

	codec  sectionCodec
	offset int64

	graphs   []*graphBuffer
	gids     map[graphKey]int
	buffered int // in-memory bytes across all graph buffers
	spill    *spillFile
	ntriples uint64

	toc []TOCEntry
	enc []byte // encoded section buffer
	tmp []byte // scratch buffer, nil once closed
}

// Create creates or truncates the named file and returns a Writer
// for it.
func Create(name string, o *WriterOptions) (*Writer, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}

	w, err := NewWriter(f, o)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.f = f
	return w, nil
}

// NewWriter wraps a seekable writer positioned at the start of an empty
// target and returns a Writer. A zeroed header placeholder is written
// immediately and patched on Finalize.
func NewWriter(w io.WriteSeeker, o *WriterOptions) (*Writer, error) {
	wr := &Writer{
		w:    w,
		o:    o.norm(),
		gids: make(map[graphKey]int),
		tmp:  make([]byte, 0, HeaderSize),
	}
	wr.codec = sectionCodec{comp: wr.o.Compression, checksum: !wr.o.NoChecksum}

	if err := wr.writeRaw(make([]byte, HeaderSize)); err != nil {
		return nil, err
	}
	return wr, nil
}

// NumGraphs returns the number of graphs seen so far.
func (w *Writer) NumGraphs() int { return len(w.graphs) }

// NumTriples returns the number of triples added so far.
func (w *Writer) NumTriples() uint64 { return w.ntriples }

// Add appends a quint. Quints sharing an (ID, GraphName) pair form one
// graph; graphs are numbered densely in first-seen order. Terms are not
// validated.
func (w *Writer) Add(q Quint) error {
	if w.tmp == nil {
		return ErrClosed
	}

	key := graphKey{ID: q.ID, GraphName: q.GraphName}
	if key.GraphName == "" {
		key.GraphName = DefaultGraphName
	}

	gid, ok := w.gids[key]
	if !ok {
		gid = len(w.graphs)
		w.gids[key] = gid
		w.graphs = append(w.graphs, &graphBuffer{graphKey: key})
	}

	g := w.graphs[gid]
	n := len(g.buf)
	g.buf = appendTriple(g.buf, q.S, q.P, q.O)
	g.n++
	w.ntriples++
	w.buffered += len(g.buf) - n

	if w.o.SpillThreshold > 0 && w.buffered > w.o.SpillThreshold {
		return w.spillLargest()
	}
	return nil
}

// Finalize writes all graph sections, the index, the TOC and the header,
// then closes the file if the writer created it. The writer cannot be
// used afterwards.
func (w *Writer) Finalize() error {
	if w.tmp == nil {
		return ErrClosed
	}
	defer w.release()

	for gid, g := range w.graphs {
		raw := g.buf
		if len(g.spilled) != 0 {
			var err error
			if raw, err = w.spill.AppendChunks(nil, g.spilled); err != nil {
				return err
			}
			raw = append(raw, g.buf...)
		}

		if err := w.writeSection(KindGraphData, raw); err != nil {
			return err
		}
		w.o.Logger.Debug("r5tu: sealed graph", "gid", gid, "id", g.ID, "graphname", g.GraphName, "triples", g.n)
		g.buf, g.spilled = nil, nil
	}

	if err := w.writeSection(KindIndex, w.encodeIndex()); err != nil {
		return err
	}

	tocOffset := w.offset
	toc := encodeTOC(nil, w.toc)
	if err := w.writeRaw(toc); err != nil {
		return err
	}

	if err := w.writeHeader(uint64(tocOffset), uint32(len(toc))); err != nil {
		return err
	}

	w.o.Logger.Debug("r5tu: finalized",
		"graphs", len(w.graphs),
		"triples", w.ntriples,
		"bytes", w.offset,
		"compression", w.o.Compression.String(),
	)

	if w.f != nil {
		if err := w.f.Sync(); err != nil {
			return err
		}
		f := w.f
		w.f = nil
		return f.Close()
	}
	return nil
}

// Close is an alias for Finalize.
func (w *Writer) Close() error { return w.Finalize() }

// Abort discards the writer. A file created by Create is removed.
func (w *Writer) Abort() error {
	if w.tmp == nil {
		return ErrClosed
	}

	f := w.f
	w.f = nil
	w.release()

	if f == nil {
		return nil
	}
	err := f.Close()
	if rerr := os.Remove(f.Name()); err == nil {
		err = rerr
	}
	return err
}

// release frees buffers and the spill file. An owned file that is still
// open at this point belongs to a failed finalize and is closed as is.
func (w *Writer) release() {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	if w.spill != nil {
		if err := w.spill.Remove(); err != nil {
			w.o.Logger.Warn("r5tu: failed to remove spill file", "path", w.spill.Name(), "error", err)
		}
		w.spill = nil
	}
	for _, g := range w.graphs {
		g.buf, g.spilled = nil, nil
	}
	w.gids = nil
	w.enc = nil
	w.tmp = nil
}

func (w *Writer) encodeIndex() []byte {
	buf := w.tmp[:0]
	buf = binary.AppendUvarint(buf, uint64(len(w.graphs)))
	for gid, g := range w.graphs {
		buf = binary.AppendUvarint(buf, uint64(gid))
		buf = appendString(buf, g.ID)
		buf = appendString(buf, g.GraphName)
		buf = binary.AppendUvarint(buf, g.n)
	}
	w.tmp = buf
	return buf
}

func (w *Writer) writeHeader(tocOffset uint64, tocLength uint32) error {
	h := Header{
		Version:   Version,
		Flags:     w.o.flags(),
		Created:   w.o.Now().Unix(),
		TOCOffset: tocOffset,
		TOCLength: tocLength,
	}

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.w.Write(h.encode(w.tmp[:0])); err != nil {
		return err
	}
	_, err := w.w.Seek(w.offset, io.SeekStart)
	return err
}

func (w *Writer) writeSection(kind SectionKind, raw []byte) error {
	stored, sum, err := w.codec.Encode(w.enc, raw)
	if err != nil {
		return err
	}
	w.enc = stored

	w.toc = append(w.toc, TOCEntry{
		Kind:   kind,
		Offset: uint64(w.offset),
		Length: uint64(len(stored)),
		CRC32:  sum,
	})
	return w.writeRaw(stored)
}

func (w *Writer) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	return err
}

func (w *Writer) spillLargest() error {
	var g *graphBuffer
	for _, x := range w.graphs {
		if g == nil || len(x.buf) > len(g.buf) {
			g = x
		}
	}
	if g == nil || len(g.buf) == 0 {
		return nil
	}

	if w.spill == nil {
		s, err := createSpillFile(w.o.TempDir)
		if err != nil {
			return err
		}
		w.spill = s
	}

	chunk, err := w.spill.Append(g.buf)
	if err != nil {
		return err
	}
	g.spilled = append(g.spilled, chunk)
	w.buffered -= len(g.buf)
	w.o.Logger.Debug("r5tu: spilled graph buffer", "id", g.ID, "graphname", g.GraphName, "bytes", len(g.buf), "path", w.spill.Name())
	g.buf = nil
	return nil
}
