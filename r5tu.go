package r5tu

import "errors"

var magic = []byte{'R', '5', 'T', 'U'}

// Version is the highest format version this package reads and the
// version it writes.
const Version = 1

// DefaultGraphName is assigned to quints without a graph name.
const DefaultGraphName = "default"

// Header flag bits.
const (
	FlagChecksum uint16 = 1 << 0
	FlagCompress uint16 = 1 << 1

	flagCodecShift = 2
	flagCodecMask  = 0x3 << flagCodecShift
)

// ErrNotFound is returned by the reader when a graph cannot be found.
var ErrNotFound = errors.New("r5tu: not found")

var (
	// ErrBadMagic is returned when a file does not start with the r5tu magic.
	ErrBadMagic = errors.New("r5tu: bad magic byte sequence")
	// ErrUnsupportedVersion is returned for files written by a newer version.
	ErrUnsupportedVersion = errors.New("r5tu: unsupported version")
	// ErrMalformed is returned when the TOC or a section is structurally invalid.
	ErrMalformed = errors.New("r5tu: malformed file")
	// ErrCorrupt is returned when a section fails checksum verification.
	ErrCorrupt = errors.New("r5tu: checksum mismatch")
	// ErrClosed is returned when a finalized writer is used again.
	ErrClosed = errors.New("r5tu: is closed")
)

var errReleased = errors.New("r5tu: iterator was released")

// --------------------------------------------------------------------

// SectionKind identifies the contents of a section.
type SectionKind uint16

// Known section kinds.
const (
	KindGraphData SectionKind = 1
	KindIndex     SectionKind = 2
)

func (k SectionKind) String() string {
	switch k {
	case KindGraphData:
		return "GraphData"
	case KindIndex:
		return "Index"
	}
	return "Unknown"
}

// --------------------------------------------------------------------

// Compression is the compression codec.
type Compression byte

func (c Compression) isValid() bool {
	return c < unknownCompression
}

// flags returns the header flag bits for the codec.
func (c Compression) flags() uint16 {
	switch c {
	case ZstdCompression:
		return FlagCompress
	case SnappyCompression:
		return FlagCompress | 1<<flagCodecShift
	case LZ4Compression:
		return FlagCompress | 2<<flagCodecShift
	}
	return 0
}

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	case SnappyCompression:
		return "snappy"
	case LZ4Compression:
		return "lz4"
	}
	return "unknown"
}

// Supported compression codecs
const (
	NoCompression Compression = iota
	ZstdCompression
	SnappyCompression
	LZ4Compression
	unknownCompression
)

// compressionFromFlags decodes the codec from header flags. Codec value 3
// is reserved and yields unknownCompression.
func compressionFromFlags(flags uint16) Compression {
	if flags&FlagCompress == 0 {
		return NoCompression
	}
	switch (flags & flagCodecMask) >> flagCodecShift {
	case 0:
		return ZstdCompression
	case 1:
		return SnappyCompression
	case 2:
		return LZ4Compression
	}
	return unknownCompression
}
