package rdf

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	knakk "github.com/knakk/rdf"
)

// Format is an RDF serialization.
type Format string

const (
	FormatNTriples Format = "ntriples"
	FormatTurtle   Format = "turtle"
	FormatRDFXML   Format = "rdfxml"
)

// ParseFormat resolves a format name or common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ntriples", "n-triples", "nt":
		return FormatNTriples, nil
	case "turtle", "ttl":
		return FormatTurtle, nil
	case "rdfxml", "rdf/xml", "xml", "rdf", "owl":
		return FormatRDFXML, nil
	default:
		return "", fmt.Errorf("unsupported rdf format: %q", s)
	}
}

// DetectFormat guesses the serialization from a file name and, failing
// that, from the first bytes of content.
func DetectFormat(name string, head []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".nt":
		return FormatNTriples
	case ".ttl":
		return FormatTurtle
	case ".rdf", ".owl", ".xml":
		return FormatRDFXML
	}

	trimmed := bytes.TrimSpace(head)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<?xml")), bytes.HasPrefix(trimmed, []byte("<rdf:RDF")):
		return FormatRDFXML
	case bytes.Contains(head, []byte("@prefix")), bytes.Contains(head, []byte("PREFIX")), bytes.Contains(head, []byte("@base")):
		return FormatTurtle
	default:
		// N-Triples is a subset of Turtle, but the line parser is stricter
		// and reports better positions.
		return FormatNTriples
	}
}

func (f Format) knakk() (knakk.Format, error) {
	switch f {
	case FormatNTriples:
		return knakk.NTriples, nil
	case FormatTurtle:
		return knakk.Turtle, nil
	case FormatRDFXML:
		return knakk.RDFXML, nil
	default:
		return 0, fmt.Errorf("unsupported rdf format: %q", f)
	}
}

// Decode reads a whole document into an immutable graph.
func Decode(r io.Reader, f Format) (*Memory, error) {
	return DecodeContext(context.Background(), r, f, nil)
}

// DecodeContext reads a document, checking ctx between triples and calling
// onTriple with the running count of decoded triples.
//
// Blank node labels are local to the document: every call relabels them
// under a fresh scope, so blank nodes of two decoded documents never
// compare equal.
func DecodeContext(ctx context.Context, r io.Reader, f Format, onTriple func(n int)) (*Memory, error) {
	kf, err := f.knakk()
	if err != nil {
		return nil, err
	}

	dec := knakk.NewTripleDecoder(r, kf)
	scope := newBlankScope()
	b := NewBuilder()
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kt, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		b.Add(fromKnakk(kt, scope))
		n++
		if onTriple != nil {
			onTriple(n)
		}
	}
	return b.Build(), nil
}

// Encode writes the distinct triples of g as N-Triples. N-Triples output is
// also valid Turtle.
func Encode(w io.Writer, g Graph) error {
	enc := knakk.NewTripleEncoder(w, knakk.NTriples)
	for t := range Distinct(g) {
		kt, err := toKnakk(t)
		if err != nil {
			return err
		}
		if err := enc.Encode(kt); err != nil {
			return fmt.Errorf("encode triple: %w", err)
		}
	}
	return enc.Close()
}

// newBlankScope returns a fixed-length label prefix unique to one decode.
func newBlankScope() string {
	id := uuid.New()
	return "u" + hex.EncodeToString(id[:])
}

func fromKnakkTerm(t knakk.Term, scope string) Term {
	switch v := t.(type) {
	case knakk.IRI:
		return IRI(v.String())
	case knakk.Blank:
		return Blank(scope + strings.TrimPrefix(v.String(), "_:"))
	case knakk.Literal:
		if lang := v.Lang(); lang != "" {
			return LangLiteral(v.String(), lang)
		}
		dt := v.DataType.String()
		if dt == RDFLangString {
			dt = ""
		}
		return TypedLiteral(v.String(), dt)
	default:
		return Literal(t.String())
	}
}

func fromKnakk(t knakk.Triple, scope string) Triple {
	return Triple{
		S: fromKnakkTerm(t.Subj, scope),
		P: fromKnakkTerm(t.Pred, scope),
		O: fromKnakkTerm(t.Obj, scope),
	}
}

func toKnakkTerm(t Term) (knakk.Term, error) {
	switch t.Kind {
	case KindIRI:
		return knakk.NewIRI(t.Value)
	case KindBlank:
		return knakk.NewBlank(t.Value)
	case KindLiteral:
		if t.Lang != "" {
			return knakk.NewLangLiteral(t.Value, t.Lang)
		}
		if t.Datatype != "" {
			dt, err := knakk.NewIRI(t.Datatype)
			if err != nil {
				return nil, err
			}
			return knakk.NewTypedLiteral(t.Value, dt), nil
		}
		return knakk.NewLiteral(t.Value)
	default:
		return nil, fmt.Errorf("cannot encode unbound term")
	}
}

func toKnakk(t Triple) (knakk.Triple, error) {
	s, err := toKnakkTerm(t.S)
	if err != nil {
		return knakk.Triple{}, err
	}
	p, err := toKnakkTerm(t.P)
	if err != nil {
		return knakk.Triple{}, err
	}
	o, err := toKnakkTerm(t.O)
	if err != nil {
		return knakk.Triple{}, err
	}
	subj, ok := s.(knakk.Subject)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("invalid subject %s", t.S)
	}
	pred, ok := p.(knakk.Predicate)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("invalid predicate %s", t.P)
	}
	obj, ok := o.(knakk.Object)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("invalid object %s", t.O)
	}
	return knakk.Triple{Subj: subj, Pred: pred, Obj: obj}, nil
}
