package main

import (
	"fmt"
	"io"
	"time"

	"github.com/bsm/r5tu"
	"github.com/spf13/pflag"
)

func runStat(args []string, stdout, stderr io.Writer) error {
	var (
		file      string
		graphName string
		id        string
		verbose   bool
		list      bool
		verify    bool
	)

	flagSet := pflag.NewFlagSet("r5tu stat", pflag.ContinueOnError)
	flagSet.StringVar(&file, "file", "", "r5tu file to inspect")
	flagSet.StringVar(&graphName, "graphname", "", "only report graphs with this graph name")
	flagSet.StringVar(&id, "id", "", "only report graphs with this provenance id")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "print header and TOC entries")
	flagSet.BoolVar(&list, "list", false, "list graphs on stdout")
	flagSet.BoolVar(&verify, "verify", false, "verify all section checksums")

	if err := parseFlags(flagSet, args, stderr); err != nil {
		return err
	}
	if file == "" {
		return usagef("--file required")
	}

	f, err := r5tu.Open(file)
	if err != nil {
		return usagef("stat: failed to open '%s': %w\nHint: Use 'build-graph' or 'build-dataset' to produce an .r5tu file first.", file, err)
	}
	defer f.Close()

	toc := f.TOC()
	fmt.Fprintf(stderr, "sections: %d\n", len(toc))
	if verbose {
		h := f.Header()
		fmt.Fprintf(stderr, "header.magic='%s' version=%d flags=0x%04x created_unix=%d toc_off=%d toc_len=%d compression=%s\n",
			h.Magic[:], h.Version, h.Flags, h.Created, h.TOCOffset, h.TOCLength, h.Compression())
		for i, e := range toc {
			fmt.Fprintf(stderr, "  [%d] kind=%s off=%d len=%d crc=%d\n", i, e.Kind, e.Offset, e.Length, e.CRC32)
		}
	}

	if verify {
		if err := f.Verify(); err != nil {
			return err
		}
		fmt.Fprintln(stderr, "verify: ok")
	}

	start := time.Now()
	var graphs []r5tu.GraphRef
	switch {
	case graphName != "":
		graphs, err = f.EnumerateByGraphName(graphName)
	case id != "":
		graphs, err = f.EnumerateByID(id)
	default:
		graphs, err = f.EnumerateAll()
	}
	if err != nil {
		return err
	}

	// both filters given: graph name was applied, narrow by id
	if graphName != "" && id != "" {
		filtered := graphs[:0]
		for _, g := range graphs {
			if g.ID == id {
				filtered = append(filtered, g)
			}
		}
		graphs = filtered
	}

	var triples uint64
	for _, g := range graphs {
		triples += g.NTriples
	}
	fmt.Fprintf(stderr, "graphs: %d triples: %d in %v\n", len(graphs), triples, time.Since(start))

	if list {
		for _, g := range graphs {
			fmt.Fprintf(stdout, "gid=%d id='%s' graphname='%s' n_triples=%d\n", g.GID, g.ID, g.GraphName, g.NTriples)
		}
	}
	return nil
}
