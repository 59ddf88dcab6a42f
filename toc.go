package r5tu

import (
	"encoding/binary"
	"fmt"
)

// tocEntrySize is the encoded size of a TOC entry.
const tocEntrySize = 24

// TOCEntry describes a single section.
type TOCEntry struct {
	Kind   SectionKind
	Offset uint64
	Length uint64
	CRC32  uint32 // zero when checksums are disabled
}

func (e *TOCEntry) encode(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(e.Kind))
	dst = append(dst, 0, 0) // reserved
	dst = binary.LittleEndian.AppendUint64(dst, e.Offset)
	dst = binary.LittleEndian.AppendUint64(dst, e.Length)
	return binary.LittleEndian.AppendUint32(dst, e.CRC32)
}

func encodeTOC(dst []byte, toc []TOCEntry) []byte {
	for i := range toc {
		dst = toc[i].encode(dst)
	}
	return dst
}

// parseTOC parses raw TOC bytes. Each entry must lie within
// [HeaderSize, tocOffset).
func parseTOC(raw []byte, tocOffset uint64) ([]TOCEntry, error) {
	if len(raw)%tocEntrySize != 0 {
		return nil, fmt.Errorf("%w: toc length %d is not a multiple of %d", ErrMalformed, len(raw), tocEntrySize)
	}

	toc := make([]TOCEntry, 0, len(raw)/tocEntrySize)
	for pos := 0; pos < len(raw); pos += tocEntrySize {
		ent := TOCEntry{
			Kind:   SectionKind(binary.LittleEndian.Uint16(raw[pos:])),
			Offset: binary.LittleEndian.Uint64(raw[pos+4:]),
			Length: binary.LittleEndian.Uint64(raw[pos+12:]),
			CRC32:  binary.LittleEndian.Uint32(raw[pos+20:]),
		}

		if ent.Offset < HeaderSize || ent.Offset > tocOffset || ent.Length > tocOffset-ent.Offset {
			return nil, fmt.Errorf("%w: toc entry %d [%d,+%d) out of bounds", ErrMalformed, len(toc), ent.Offset, ent.Length)
		}
		toc = append(toc, ent)
	}
	return toc, nil
}
