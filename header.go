package r5tu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// HeaderSize is the fixed size of the file header.
const HeaderSize = 32

// Header is the fixed-size file preamble.
type Header struct {
	Magic     [4]byte
	Version   uint16
	Flags     uint16
	Created   int64 // unix seconds
	TOCOffset uint64
	TOCLength uint32
}

// HasChecksums returns true if sections carry checksums.
func (h Header) HasChecksums() bool { return h.Flags&FlagChecksum != 0 }

// Compression returns the codec sections were compressed with.
func (h Header) Compression() Compression { return compressionFromFlags(h.Flags) }

// CreatedAt returns the creation time.
func (h Header) CreatedAt() time.Time { return time.Unix(h.Created, 0) }

func (h *Header) encode(dst []byte) []byte {
	dst = append(dst, magic...)
	dst = binary.LittleEndian.AppendUint16(dst, h.Version)
	dst = binary.LittleEndian.AppendUint16(dst, h.Flags)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Created))
	dst = binary.LittleEndian.AppendUint64(dst, h.TOCOffset)
	dst = binary.LittleEndian.AppendUint32(dst, h.TOCLength)
	return append(dst, 0, 0, 0, 0) // reserved
}

// readHeader reads and validates the header. Unknown flag bits are kept
// but never rejected.
func readHeader(r io.ReaderAt, size int64) (*Header, error) {
	if size < HeaderSize {
		return nil, ErrBadMagic
	}

	tmp := make([]byte, HeaderSize)
	if _, err := r.ReadAt(tmp, 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(tmp[:4], magic) {
		return nil, ErrBadMagic
	}

	h := new(Header)
	copy(h.Magic[:], tmp[:4])
	h.Version = binary.LittleEndian.Uint16(tmp[4:])
	h.Flags = binary.LittleEndian.Uint16(tmp[6:])
	h.Created = int64(binary.LittleEndian.Uint64(tmp[8:]))
	h.TOCOffset = binary.LittleEndian.Uint64(tmp[16:])
	h.TOCLength = binary.LittleEndian.Uint32(tmp[24:])

	if h.Version > Version {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, h.Version, Version)
	}
	if h.TOCOffset < HeaderSize || h.TOCOffset > uint64(size) || uint64(h.TOCLength) > uint64(size)-h.TOCOffset {
		return nil, fmt.Errorf("%w: toc [%d,+%d) outside of file size %d", ErrMalformed, h.TOCOffset, h.TOCLength, size)
	}
	return h, nil
}
