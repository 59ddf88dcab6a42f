package r5tu

import (
	"io"
	"os"
)

// spillFile is an append-only scratch file holding graph buffers evicted
// from memory before finalize.
type spillFile struct {
	f    *os.File
	size int64
}

// spillChunk addresses a range within the spill file.
type spillChunk struct {
	Offset int64
	Length int64
}

func createSpillFile(dir string) (*spillFile, error) {
	f, err := os.CreateTemp(dir, "r5tu-spill-*")
	if err != nil {
		return nil, err
	}
	return &spillFile{f: f}, nil
}

// Append writes p to the end of the file.
func (s *spillFile) Append(p []byte) (spillChunk, error) {
	n, err := s.f.Write(p)
	chunk := spillChunk{Offset: s.size, Length: int64(n)}
	s.size += int64(n)
	return chunk, err
}

// AppendChunks appends the contents of chunks to dst, in order.
func (s *spillFile) AppendChunks(dst []byte, chunks []spillChunk) ([]byte, error) {
	for _, c := range chunks {
		n := len(dst)
		dst = append(dst, make([]byte, c.Length)...)
		if m, err := s.f.ReadAt(dst[n:], c.Offset); m < int(c.Length) {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return dst, err
		}
	}
	return dst, nil
}

// Name returns the file path.
func (s *spillFile) Name() string { return s.f.Name() }

// Remove closes and deletes the file.
func (s *spillFile) Remove() error {
	err := s.f.Close()
	if rerr := os.Remove(s.f.Name()); err == nil {
		err = rerr
	}
	return err
}
