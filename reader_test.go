package r5tu_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bsm/r5tu"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	var path string
	var subject *r5tu.File

	BeforeEach(func() {
		var err error
		path, err = seedFile(nil, seedQuints())
		Expect(err).NotTo(HaveOccurred())
		subject = openFile(path)
	})

	It("should init", func() {
		Expect(subject.NumGraphs()).To(Equal(3))

		toc := subject.TOC()
		Expect(toc).To(HaveLen(4))
		Expect(toc[0].Kind).To(Equal(r5tu.KindGraphData))
		Expect(toc[0].Offset).To(Equal(uint64(r5tu.HeaderSize)))
		Expect(toc[2].Kind).To(Equal(r5tu.KindGraphData))
		Expect(toc[3].Kind).To(Equal(r5tu.KindIndex))
		for i := 1; i < len(toc); i++ {
			Expect(toc[i].Offset).To(Equal(toc[i-1].Offset+toc[i-1].Length), "for %d", i)
		}

		h := subject.Header()
		Expect(string(h.Magic[:])).To(Equal("R5TU"))
		Expect(h.HasChecksums()).To(BeTrue())
		Expect(h.Compression()).To(Equal(r5tu.NoCompression))
		Expect(h.TOCOffset).To(Equal(toc[3].Offset + toc[3].Length))
		Expect(h.TOCLength).To(Equal(uint32(4 * 24)))
	})

	It("should enumerate all graphs", func() {
		Expect(subject.EnumerateAll()).To(Equal([]r5tu.GraphRef{
			{GID: 0, ID: "a", GraphName: "g1", NTriples: 3},
			{GID: 1, ID: "b", GraphName: "g2", NTriples: 2},
			{GID: 2, ID: "c", GraphName: "g1", NTriples: 1},
		}))
	})

	It("should enumerate by graph name", func() {
		Expect(subject.EnumerateByGraphName("g1")).To(Equal([]r5tu.GraphRef{
			{GID: 0, ID: "a", GraphName: "g1", NTriples: 3},
			{GID: 2, ID: "c", GraphName: "g1", NTriples: 1},
		}))
		Expect(subject.EnumerateByGraphName("G1")).To(BeEmpty())
		Expect(subject.EnumerateByGraphName("missing")).To(BeEmpty())
	})

	It("should enumerate by id", func() {
		Expect(subject.EnumerateByID("b")).To(Equal([]r5tu.GraphRef{
			{GID: 1, ID: "b", GraphName: "g2", NTriples: 2},
		}))
		Expect(subject.EnumerateByID("z")).To(BeEmpty())
	})

	It("should read graphs", func() {
		input := seedQuints()
		Expect(subject.Triples(0)).To(Equal(triplesOf(input, "a", "g1")))
		Expect(subject.Triples(1)).To(Equal(triplesOf(input, "b", "g2")))
		Expect(subject.Triples(2)).To(Equal(triplesOf(input, "c", "g1")))

		_, err := subject.OpenGraph(3)
		Expect(err).To(MatchError(r5tu.ErrNotFound))
	})

	It("should iterate", func() {
		iter, err := subject.OpenGraph(0)
		Expect(err).NotTo(HaveOccurred())
		defer iter.Release()

		Expect(iter.Next()).To(BeTrue())
		Expect(iter.Triple().S).To(Equal(r5tu.NewIRI(exNS + "s1")))
		Expect(iter.Next()).To(BeTrue())
		Expect(iter.Triple().S).To(Equal(r5tu.NewBNode("b0")))
		Expect(iter.Triple().O).To(Equal(r5tu.NewLangLiteral("hallo", "de")))
		Expect(iter.Next()).To(BeTrue())
		Expect(iter.Triple().O).To(Equal(r5tu.NewBNode("b0")))
		Expect(iter.Next()).To(BeFalse())
		Expect(iter.Err()).NotTo(HaveOccurred())
	})

	It("should re-open graphs", func() {
		for i := 0; i < 3; i++ {
			Expect(subject.Triples(1)).To(HaveLen(2))
		}
	})

	It("should support concurrent readers", func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				graphs, err := subject.EnumerateAll()
				Expect(err).NotTo(HaveOccurred())
				for _, g := range graphs {
					Expect(subject.Triples(g.GID)).To(HaveLen(int(g.NTriples)))
				}
			}()
		}
		wg.Wait()
	})

	It("should verify", func() {
		Expect(subject.Verify()).To(Succeed())
	})

	Describe("scenarios", func() {
		It("should group by id and graph name", func() {
			path, err := seedFile(nil, []r5tu.Quint{
				quint("a", "g1", 1),
				quint("a", "g1", 2),
				quint("b", "g2", 3),
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(openFile(path).EnumerateAll()).To(Equal([]r5tu.GraphRef{
				{GID: 0, ID: "a", GraphName: "g1", NTriples: 2},
				{GID: 1, ID: "b", GraphName: "g2", NTriples: 1},
			}))
		})

		It("should open empty files", func() {
			path, err := seedFile(nil, nil)
			Expect(err).NotTo(HaveOccurred())

			r := openFile(path)
			Expect(r.EnumerateAll()).To(BeEmpty())
			Expect(r.NumGraphs()).To(BeZero())
			Expect(r.TOC()).To(HaveLen(1))
			Expect(r.TOC()[0].Kind).To(Equal(r5tu.KindIndex))
		})
	})

	DescribeTable("compression",
		func(c r5tu.Compression) {
			input := seedQuints()
			for i := 0; i < 500; i++ {
				input = append(input, quint("d", "g3", i))
			}

			plain, err := seedFile(nil, input)
			Expect(err).NotTo(HaveOccurred())
			packed, err := seedFile(&r5tu.WriterOptions{Compression: c}, input)
			Expect(err).NotTo(HaveOccurred())

			pr, cr := openFile(plain), openFile(packed)
			Expect(cr.Header().Compression()).To(Equal(c))
			Expect(cr.EnumerateAll()).To(Equal(must(pr.EnumerateAll())))
			for gid := uint64(0); gid < 4; gid++ {
				Expect(cr.Triples(gid)).To(Equal(must(pr.Triples(gid))))
			}
			Expect(cr.Verify()).To(Succeed())

			ps, err := os.Stat(plain)
			Expect(err).NotTo(HaveOccurred())
			cs, err := os.Stat(packed)
			Expect(err).NotTo(HaveOccurred())
			Expect(cs.Size()).To(BeNumerically("<", ps.Size()))
		},
		Entry("zstd", r5tu.ZstdCompression),
		Entry("snappy", r5tu.SnappyCompression),
		Entry("lz4", r5tu.LZ4Compression),
	)

	Describe("header", func() {
		It("should reject bad magic", func() {
			flipByte(path, 1)
			_, err := r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrBadMagic))
		})

		It("should reject truncated files", func() {
			Expect(os.Truncate(path, 3)).To(Succeed())
			_, err := r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrBadMagic))
		})

		It("should reject newer versions", func() {
			patchFile(path, 4, func(b []byte) { binary.LittleEndian.PutUint16(b, r5tu.Version+1) })
			_, err := r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrUnsupportedVersion))
		})

		It("should ignore unknown flags", func() {
			patchFile(path, 6, func(b []byte) { b[1] |= 0x80 })
			r := openFile(path)
			Expect(r.Header().Flags & 0x8000).NotTo(BeZero())
			Expect(r.EnumerateAll()).To(HaveLen(3))
		})

		It("should open files with a reserved codec", func() {
			path, err := seedFile(&r5tu.WriterOptions{Compression: r5tu.ZstdCompression}, seedQuints())
			Expect(err).NotTo(HaveOccurred())
			patchFile(path, 6, func(b []byte) { b[0] |= 0x0c })

			r := openFile(path)
			Expect(r.Header().Flags & 0x0c).To(Equal(uint16(0x0c)))
			Expect(r.Verify()).To(Succeed())

			_, err = r.EnumerateAll()
			Expect(err).To(MatchError(r5tu.ErrMalformed))
			_, err = r.Triples(0)
			Expect(err).To(MatchError(r5tu.ErrMalformed))
		})

		It("should reject unfinished files", func() {
			w, err := r5tu.Create(path, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Add(quint("a", "g1", 1))).To(Succeed())

			_, err = r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrBadMagic))
			Expect(w.Abort()).To(Succeed())
		})
	})

	Describe("toc", func() {
		It("should reject bad lengths", func() {
			patchFile(path, 24, func(b []byte) {
				binary.LittleEndian.PutUint32(b, binary.LittleEndian.Uint32(b)-1)
			})
			_, err := r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrMalformed))
		})

		It("should reject out-of-bounds entries", func() {
			toc := subject.TOC()
			patchFile(path, int64(subject.Header().TOCOffset)+4, func(b []byte) {
				binary.LittleEndian.PutUint64(b, toc[3].Offset+toc[3].Length)
			})
			_, err := r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrMalformed))
		})

		It("should reject files without an index", func() {
			patchFile(path, int64(subject.Header().TOCOffset)+3*24, func(b []byte) {
				binary.LittleEndian.PutUint16(b, 99)
			})
			_, err := r5tu.Open(path)
			Expect(err).To(MatchError(r5tu.ErrMalformed))
		})

		It("should skip unknown section kinds", func() {
			patchFile(path, int64(subject.Header().TOCOffset)+2*24, func(b []byte) {
				binary.LittleEndian.PutUint16(b, 99)
			})
			r := openFile(path)
			Expect(r.NumGraphs()).To(Equal(2))
			_, err := r.EnumerateAll()
			Expect(err).To(MatchError(r5tu.ErrMalformed))
		})
	})

	Describe("io errors", func() {
		errDisk := errors.New("disk failure")

		It("should return read errors unchanged", func() {
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			src := &failingReaderAt{ReaderAt: bytes.NewReader(data), err: errDisk, failing: true}

			_, err = r5tu.NewReader(src, int64(len(data)))
			Expect(err).To(Equal(errDisk))

			src.failing = false
			r, err := r5tu.NewReader(src, int64(len(data)))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.EnumerateAll()).To(HaveLen(3))

			src.failing = true
			_, err = r.EnumerateAll()
			Expect(err).To(Equal(errDisk))
			_, err = r.EnumerateByGraphName("g1")
			Expect(err).To(Equal(errDisk))
			_, err = r.Triples(0)
			Expect(err).To(Equal(errDisk))
			Expect(r.Verify()).To(Equal(errDisk))
		})
	})

	Describe("corruption", func() {
		It("should detect corrupt graph sections", func() {
			ent := subject.TOC()[1]
			flipByte(path, int64(ent.Offset+ent.Length-1))

			r := openFile(path)
			_, err := r.Triples(1)
			Expect(err).To(MatchError(r5tu.ErrCorrupt))
			Expect(r.Verify()).To(MatchError(r5tu.ErrCorrupt))

			Expect(r.EnumerateAll()).To(HaveLen(3))
			Expect(r.Triples(0)).To(HaveLen(3))
			Expect(r.Triples(2)).To(HaveLen(1))
		})

		It("should detect corrupt compressed sections", func() {
			path, err := seedFile(&r5tu.WriterOptions{Compression: r5tu.ZstdCompression}, seedQuints())
			Expect(err).NotTo(HaveOccurred())

			ent := openFile(path).TOC()[0]
			flipByte(path, int64(ent.Offset+ent.Length/2))

			r := openFile(path)
			_, err = r.Triples(0)
			Expect(err).To(MatchError(r5tu.ErrCorrupt))
			Expect(r.Triples(1)).To(HaveLen(2))
		})

		It("should detect a corrupt index", func() {
			ent := subject.TOC()[3]
			flipByte(path, int64(ent.Offset))

			r := openFile(path)
			_, err := r.EnumerateAll()
			Expect(err).To(MatchError(r5tu.ErrCorrupt))
			_, err = r.EnumerateByGraphName("g1")
			Expect(err).To(MatchError(r5tu.ErrCorrupt))
			Expect(r.Triples(0)).To(HaveLen(3))
		})

		It("should not detect corruption without checksums", func() {
			path, err := seedFile(&r5tu.WriterOptions{NoChecksum: true}, seedQuints())
			Expect(err).NotTo(HaveOccurred())

			ent := openFile(path).TOC()[1]
			flipByte(path, int64(ent.Offset+ent.Length-1))

			r := openFile(path)
			Expect(r.Verify()).To(Succeed())
			triples, err := r.Triples(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(triples).To(HaveLen(2))
			Expect(strings.HasSuffix(triples[1].O.Datatype, "#string")).To(BeFalse())
		})
	})
})

func must[T any](v T, err error) T {
	Expect(err).NotTo(HaveOccurred())
	return v
}

// patchFile applies fn to the bytes of a file starting at off.
func patchFile(path string, off int64, fn func([]byte)) {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	fn(data[off:])
	Expect(os.WriteFile(path, data, 0o644)).To(Succeed())
}

// failingReaderAt fails every read with err while failing is set.
type failingReaderAt struct {
	io.ReaderAt
	err     error
	failing bool
}

func (r *failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.failing {
		return 0, r.err
	}
	return r.ReaderAt.ReadAt(p, off)
}
