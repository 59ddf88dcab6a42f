package r5tu

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// TermKind represents the kind of an RDF term.
type TermKind byte

// Term kinds.
const (
	TermIRI TermKind = iota + 1
	TermBNode
	TermLiteral
)

// Term represents an RDF term: an IRI, a blank node or a literal.
// For literals, Datatype and Lang are mutually exclusive.
type Term struct {
	Kind     TermKind
	Value    string // IRI, blank node label or lexical form
	Datatype string // literal datatype IRI, optional
	Lang     string // literal language tag, optional
}

// NewIRI returns an IRI term.
func NewIRI(iri string) Term { return Term{Kind: TermIRI, Value: iri} }

// NewBNode returns a blank node term.
func NewBNode(id string) Term { return Term{Kind: TermBNode, Value: id} }

// NewLiteral returns a plain literal.
func NewLiteral(lex string) Term { return Term{Kind: TermLiteral, Value: lex} }

// NewTypedLiteral returns a literal with a datatype.
func NewTypedLiteral(lex, datatype string) Term {
	return Term{Kind: TermLiteral, Value: lex, Datatype: datatype}
}

// NewLangLiteral returns a language-tagged literal.
func NewLangLiteral(lex, lang string) Term {
	return Term{Kind: TermLiteral, Value: lex, Lang: lang}
}

// IsIRI returns true for IRI terms.
func (t Term) IsIRI() bool { return t.Kind == TermIRI }

// IsBNode returns true for blank nodes.
func (t Term) IsBNode() bool { return t.Kind == TermBNode }

// IsLiteral returns true for literals.
func (t Term) IsLiteral() bool { return t.Kind == TermLiteral }

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case TermIRI:
		return "<" + t.Value + ">"
	case TermBNode:
		return "_:" + t.Value
	case TermLiteral:
		s := strconv.Quote(t.Value)
		if t.Lang != "" {
			return s + "@" + t.Lang
		} else if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	}
	return "?"
}

// Triple is a single subject/predicate/object statement.
type Triple struct {
	S, P, O Term
}

func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s .", t.S, t.P, t.O)
}

// Quint is a triple tagged with a provenance id and a graph name.
type Quint struct {
	ID        string // provenance tag, not unique per record
	S, P, O   Term
	GraphName string
}

// Triple returns the quint's triple.
func (q Quint) Triple() Triple { return Triple{S: q.S, P: q.P, O: q.O} }

// --------------------------------------------------------------------

// Term tags on the wire.
const (
	tagIRI byte = iota + 1
	tagBNode
	tagPlainLiteral
	tagTypedLiteral
	tagLangLiteral
)

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func appendTerm(dst []byte, t Term) []byte {
	switch t.Kind {
	case TermIRI:
		return appendString(append(dst, tagIRI), t.Value)
	case TermBNode:
		return appendString(append(dst, tagBNode), t.Value)
	}

	switch {
	case t.Lang != "":
		dst = appendString(append(dst, tagLangLiteral), t.Value)
		return appendString(dst, t.Lang)
	case t.Datatype != "":
		dst = appendString(append(dst, tagTypedLiteral), t.Value)
		return appendString(dst, t.Datatype)
	}
	return appendString(append(dst, tagPlainLiteral), t.Value)
}

func appendTriple(dst []byte, s, p, o Term) []byte {
	dst = appendTerm(dst, s)
	dst = appendTerm(dst, p)
	return appendTerm(dst, o)
}

// --------------------------------------------------------------------

// decoder consumes primitives from a byte slice, remembering the first
// error.
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) More() bool { return d.err == nil && d.pos < len(d.buf) }

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: truncated %s at byte %d", ErrMalformed, what, d.pos)
	}
}

func (d *decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if d.pos >= len(d.buf) {
		d.fail("byte")
		return 0
	}
	b := d.buf[d.pos]
	d.pos++
	return b
}

func (d *decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	u, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.pos += n
	return u
}

func (d *decoder) Str() string {
	n := d.Uvarint()
	if d.err != nil {
		return ""
	}
	if n > uint64(len(d.buf)-d.pos) {
		d.fail("string")
		return ""
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s
}

func (d *decoder) Term() Term {
	switch tag := d.Byte(); tag {
	case tagIRI:
		return NewIRI(d.Str())
	case tagBNode:
		return NewBNode(d.Str())
	case tagPlainLiteral:
		return NewLiteral(d.Str())
	case tagTypedLiteral:
		lex := d.Str()
		return NewTypedLiteral(lex, d.Str())
	case tagLangLiteral:
		lex := d.Str()
		return NewLangLiteral(lex, d.Str())
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: unknown term tag %d at byte %d", ErrMalformed, tag, d.pos-1)
		}
		return Term{}
	}
}

func (d *decoder) Triple() Triple {
	s := d.Term()
	p := d.Term()
	return Triple{S: s, P: p, O: d.Term()}
}
