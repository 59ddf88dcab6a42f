package r5tu

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic("r5tu: zstd encoder initialization failed: " + err.Error())
	}
	if zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSectionSize)); err != nil {
		panic("r5tu: zstd decoder initialization failed: " + err.Error())
	}
}

// sectionCodec applies the file-wide compression and checksum settings
// to section payloads.
type sectionCodec struct {
	comp     Compression
	checksum bool
}

func codecFromHeader(h *Header) sectionCodec {
	return sectionCodec{comp: h.Compression(), checksum: h.HasChecksums()}
}

// Encode turns a raw payload into its stored form and returns the
// checksum of the stored bytes. Compressed payloads are prefixed with
// the uvarint raw length.
func (c sectionCodec) Encode(dst, raw []byte) ([]byte, uint32, error) {
	dst = dst[:0]
	switch c.comp {
	case NoCompression:
		dst = append(dst, raw...)
	case ZstdCompression:
		dst = binary.AppendUvarint(dst, uint64(len(raw)))
		dst = zstdEncoder.EncodeAll(raw, dst)
	case SnappyCompression:
		dst = binary.AppendUvarint(dst, uint64(len(raw)))
		dst = append(dst, snappy.Encode(nil, raw)...)
	case LZ4Compression:
		dst = binary.AppendUvarint(dst, uint64(len(raw)))
		if len(raw) == 0 {
			break
		}
		n := len(dst)
		dst = append(dst, make([]byte, lz4.CompressBlockBound(len(raw)))...)
		written, err := lz4.CompressBlock(raw, dst[n:], nil)
		if err != nil {
			return nil, 0, fmt.Errorf("r5tu: lz4 compress: %w", err)
		}
		if written == 0 { // incompressible, store literal block
			written, err = lz4LiteralBlock(raw, dst[n:])
			if err != nil {
				return nil, 0, err
			}
		}
		dst = dst[:n+written]
	default:
		return nil, 0, fmt.Errorf("r5tu: bad compression codec %d", c.comp)
	}

	var sum uint32
	if c.checksum {
		sum = crc32.ChecksumIEEE(dst)
	}
	return dst, sum, nil
}

// Verify checks stored bytes against the TOC checksum.
func (c sectionCodec) Verify(stored []byte, ent *TOCEntry) error {
	if !c.checksum {
		return nil
	}
	if sum := crc32.ChecksumIEEE(stored); sum != ent.CRC32 {
		return fmt.Errorf("%w: %s section at offset %d (crc %08x, expected %08x)", ErrCorrupt, ent.Kind, ent.Offset, sum, ent.CRC32)
	}
	return nil
}

// Decode verifies and decompresses stored bytes. The result may alias
// stored when the file is uncompressed.
func (c sectionCodec) Decode(stored []byte, ent *TOCEntry) ([]byte, error) {
	if err := c.Verify(stored, ent); err != nil {
		return nil, err
	}
	if c.comp == NoCompression {
		return stored, nil
	}

	size, n := binary.Uvarint(stored)
	if n <= 0 || size > maxSectionSize {
		return nil, fmt.Errorf("%w: bad raw length in %s section at offset %d", ErrMalformed, ent.Kind, ent.Offset)
	}
	body := stored[n:]
	if size == 0 {
		return []byte{}, nil
	}

	var (
		raw []byte
		err error
	)
	switch c.comp {
	case ZstdCompression:
		raw, err = zstdDecoder.DecodeAll(body, make([]byte, 0, capHint(size, len(body))))
	case SnappyCompression:
		if size > snappyMaxRatio*uint64(len(body)) {
			return nil, c.errOversized(ent, size, len(body))
		}
		if dlen, derr := snappy.DecodedLen(body); derr != nil || uint64(dlen) != size {
			return nil, fmt.Errorf("%w: %s section at offset %d declares %d raw bytes, snappy header disagrees", ErrMalformed, ent.Kind, ent.Offset, size)
		}
		raw, err = snappy.Decode(nil, body)
	case LZ4Compression:
		if size > lz4MaxRatio*uint64(len(body))+16 {
			return nil, c.errOversized(ent, size, len(body))
		}
		raw = make([]byte, int(size))
		var read int
		if read, err = lz4.UncompressBlock(body, raw); err == nil {
			raw = raw[:read]
		}
	default:
		return nil, fmt.Errorf("%w: bad compression codec in header flags", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s section at offset %d: %v", ErrMalformed, ent.Kind, ent.Offset, err)
	}
	if uint64(len(raw)) != size {
		return nil, fmt.Errorf("%w: %s section at offset %d decoded to %d bytes, expected %d", ErrMalformed, ent.Kind, ent.Offset, len(raw), size)
	}
	return raw, nil
}

// maxSectionSize caps the raw size of a compressed section.
const maxSectionSize = 1 << 30

// Upper bounds of the expansion ratio per codec. A declared raw length
// above the bound cannot be produced by the stored payload.
const (
	snappyMaxRatio = 32  // a 3-byte copy op emits at most 64 bytes
	lz4MaxRatio    = 255 // each extra length byte adds 255 bytes
)

func (c sectionCodec) errOversized(ent *TOCEntry, size uint64, stored int) error {
	return fmt.Errorf("%w: %s section at offset %d declares %d raw bytes for %d stored bytes", ErrMalformed, ent.Kind, ent.Offset, size, stored)
}

// capHint limits up-front allocations for zstd, which can grow its
// output.
func capHint(size uint64, stored int) int {
	if hint := 4 * uint64(stored); size > hint {
		size = hint
	}
	if size > 1<<26 {
		return 1 << 26
	}
	return int(size)
}

// lz4LiteralBlock writes src as a single literal-only LZ4 sequence.
// lz4.CompressBlock reports 0 for incompressible input.
func lz4LiteralBlock(src, dst []byte) (int, error) {
	n := len(src)
	need := 1 + n/255 + 1 + n
	if need > len(dst) {
		return 0, fmt.Errorf("r5tu: lz4 literal block of %d bytes exceeds bound %d", need, len(dst))
	}

	pos := 0
	if n < 15 {
		dst[pos] = byte(n << 4)
		pos++
	} else {
		dst[pos] = 0xf0
		pos++
		for rest := n - 15; ; rest -= 255 {
			if rest < 255 {
				dst[pos] = byte(rest)
				pos++
				break
			}
			dst[pos] = 255
			pos++
		}
	}
	pos += copy(dst[pos:], src)
	return pos, nil
}
