package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bsm/r5tu"
	"github.com/cayleygraph/quad"
	"github.com/cayleygraph/quad/nquads"
	"github.com/spf13/pflag"
)

const (
	rdfType     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	owlOntology = "http://www.w3.org/2002/07/owl#Ontology"
)

// inputExts lists the file extensions each build command can parse.
// Turtle, RDF/XML and TriG inputs must be converted to N-Triples or
// N-Quads first.
var inputExts = map[string][]string{
	"build-graph":   {".nt", ".ntriples"},
	"build-dataset": {".nq", ".nquads", ".nt"},
}

func checkInputs(cmd string, inputs []string) error {
	exts := inputExts[cmd]
	for _, input := range inputs {
		ext := strings.ToLower(filepath.Ext(input))
		if !slices.Contains(exts, ext) {
			return usagef("unsupported input %q, %s accepts %s", input, cmd, strings.Join(exts, ", "))
		}
	}
	return nil
}

type buildOptions struct {
	ID           string // overrides the per-input provenance id
	GraphName    string // build-graph fallback graph name
	DefaultGraph string // build-dataset name for the default graph
}

// builder adds the contents of a single input file and returns the
// number of quints written.
type builder func(w *r5tu.Writer, input string, o *buildOptions, stdout io.Writer) (int, error)

func runBuild(cmd string, args []string, stdout, stderr io.Writer, build builder) error {
	var (
		inputs   []string
		output   string
		compress string
		noCRC    bool
		verbose  bool
		spill    int
		opts     buildOptions
	)

	flagSet := pflag.NewFlagSet("r5tu "+cmd, pflag.ContinueOnError)
	flagSet.StringArrayVar(&inputs, "input", nil, "input file, can be repeated")
	flagSet.StringVar(&output, "output", "", "output r5tu file")
	flagSet.StringVar(&opts.ID, "id", "", "provenance id (default: input path)")
	flagSet.StringVar(&compress, "compress", "none", "section compression: zstd, snappy, lz4 or none")
	flagSet.BoolVar(&noCRC, "no-crc", false, "disable section checksums")
	flagSet.IntVar(&spill, "spill-threshold", 0, "spill graph buffers to disk above this many bytes (0 disables)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	if cmd == "build-graph" {
		flagSet.StringVar(&opts.GraphName, "graphname", "", "graph name when none is detected (default: \"default\")")
	} else {
		flagSet.StringVar(&opts.DefaultGraph, "default-graphname", r5tu.DefaultGraphName, "graph name for the default graph")
	}

	if err := parseFlags(flagSet, args, stderr); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return usagef("--input required (can be repeated)")
	}
	if output == "" {
		return usagef("--output required")
	}
	codec, err := parseCompression(compress)
	if err != nil {
		return err
	}
	if err := checkInputs(cmd, inputs); err != nil {
		return err
	}

	logger := newLogger(stderr, verbose)
	w, err := r5tu.Create(output, &r5tu.WriterOptions{
		Compression:    codec,
		NoChecksum:     noCRC,
		SpillThreshold: spill,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	for _, input := range inputs {
		if _, err := build(w, input, &opts, stdout); err != nil {
			_ = w.Abort()
			return err
		}
	}
	if err := w.Finalize(); err != nil {
		return err
	}

	logger.Info("built", "output", output, "graphs", w.NumGraphs(), "triples", w.NumTriples(), "elapsed", time.Since(start))
	return nil
}

// buildGraph adds an N-Triples file as a single graph.
func buildGraph(w *r5tu.Writer, input string, o *buildOptions, stdout io.Writer) (int, error) {
	var triples []quad.Quad
	if err := readQuads(input, func(q quad.Quad) error {
		triples = append(triples, q)
		return nil
	}); err != nil {
		return 0, err
	}

	gname := detectGraphName(triples)
	if gname == "" {
		gname = o.GraphName
	}
	if gname == "" {
		gname = r5tu.DefaultGraphName
	}
	id := provenanceID(input, o)

	n := 0
	for _, q := range triples {
		s, p, obj, ok := convertTriple(q)
		if !ok {
			continue
		}
		if err := w.Add(r5tu.Quint{ID: id, S: s, P: p, O: obj, GraphName: gname}); err != nil {
			return n, err
		}
		n++
	}

	fmt.Fprintf(stdout, "Added graph id='%s' graphname='%s' (%d triples) from '%s'\n", id, gname, n, input)
	return n, nil
}

// buildDataset adds an N-Quads file, one graph per label.
func buildDataset(w *r5tu.Writer, input string, o *buildOptions, stdout io.Writer) (int, error) {
	id := provenanceID(input, o)

	n := 0
	err := readQuads(input, func(q quad.Quad) error {
		s, p, obj, ok := convertTriple(q)
		if !ok {
			return nil
		}

		gname := o.DefaultGraph
		switch label := q.Label.(type) {
		case quad.IRI:
			gname = string(label)
		case quad.BNode:
			gname = "_:" + string(label)
		}

		n++
		return w.Add(r5tu.Quint{ID: id, S: s, P: p, O: obj, GraphName: gname})
	})
	if err != nil {
		return n, err
	}

	fmt.Fprintf(stdout, "Added dataset id='%s' quads=%d from '%s'\n", id, n, input)
	return n, nil
}

func provenanceID(input string, o *buildOptions) string {
	if o.ID != "" {
		return o.ID
	}
	return input
}

// detectGraphName returns the subject of the first rdf:type owl:Ontology
// statement, if any.
func detectGraphName(triples []quad.Quad) string {
	for _, q := range triples {
		if p, ok := q.Predicate.(quad.IRI); !ok || string(p) != rdfType {
			continue
		}
		if o, ok := q.Object.(quad.IRI); !ok || string(o) != owlOntology {
			continue
		}
		if s, ok := q.Subject.(quad.IRI); ok {
			return string(s)
		}
	}
	return ""
}

func readQuads(name string, fn func(quad.Quad) error) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	r := nquads.NewReader(bufio.NewReader(f), true)
	defer r.Close()

	for {
		q, err := r.ReadQuad()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := fn(q); err != nil {
			return err
		}
	}
}

// convertTriple maps a parsed quad onto r5tu terms. Statements with
// subjects or predicates r5tu cannot represent are skipped.
func convertTriple(q quad.Quad) (s, p, o r5tu.Term, ok bool) {
	if s, ok = convertTerm(q.Subject); !ok || s.IsLiteral() {
		return s, p, o, false
	}
	if p, ok = convertTerm(q.Predicate); !ok || !p.IsIRI() {
		return s, p, o, false
	}
	o, ok = convertTerm(q.Object)
	return s, p, o, ok
}

func convertTerm(v quad.Value) (r5tu.Term, bool) {
	switch v := v.(type) {
	case quad.IRI:
		return r5tu.NewIRI(string(v)), true
	case quad.BNode:
		return r5tu.NewBNode(string(v)), true
	case quad.String:
		return r5tu.NewLiteral(string(v)), true
	case quad.LangString:
		return r5tu.NewLangLiteral(string(v.Value), v.Lang), true
	case quad.TypedString:
		return r5tu.NewTypedLiteral(string(v.Value), string(v.Type)), true
	}
	return r5tu.Term{}, false
}
