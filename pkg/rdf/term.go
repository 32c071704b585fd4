// Package rdf implements the immutable triple containers shared by every
// processor in a pipeline run.
//
// Graphs are never mutated once built. Composition happens through Union
// views that reference their member graphs instead of copying triples, so a
// single source graph can be shared by many unions and read concurrently
// without locking.
//
// Example usage:
//
//	b := rdf.NewBuilder()
//	b.Add(rdf.NewTriple(rdf.IRI("urn:a"), rdf.IRI(rdf.RDFSLabel), rdf.Literal("Jena")))
//	g := b.Build()
//
//	u := rdf.NewUnion(g, other)
//	for t := range u.Match(rdf.Term{}, rdf.IRI(rdf.RDFSLabel), rdf.Term{}) {
//	    fmt.Println(t)
//	}
package rdf

import (
	"fmt"
	"strconv"
	"strings"
)

// TermKind distinguishes IRIs, blank nodes and literals.
type TermKind uint8

const (
	KindIRI TermKind = iota + 1
	KindBlank
	KindLiteral
)

// String returns the name of the kind.
func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unbound"
	}
}

// Term is a single RDF node. The zero Term is unbound and acts as a wildcard
// in Match calls.
type Term struct {
	Kind     TermKind
	Value    string // IRI text, blank node label or literal lexical form
	Lang     string // language tag, literals only
	Datatype string // datatype IRI, literals only; empty means xsd:string
}

// IRI creates an IRI term.
func IRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

// Blank creates a blank node term. A leading "_:" is stripped.
func Blank(id string) Term {
	return Term{Kind: KindBlank, Value: strings.TrimPrefix(id, "_:")}
}

// Literal creates a plain string literal.
func Literal(v string) Term {
	return Term{Kind: KindLiteral, Value: v}
}

// LangLiteral creates a language-tagged literal.
func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: strings.ToLower(lang)}
}

// TypedLiteral creates a literal with an explicit datatype.
func TypedLiteral(v, datatype string) Term {
	if datatype == XSDString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

// IsZero reports whether the term is unbound.
func (t Term) IsZero() bool {
	return t.Kind == 0
}

// IsIRI reports whether the term is an IRI.
func (t Term) IsIRI() bool { return t.Kind == KindIRI }

// IsBlank reports whether the term is a blank node.
func (t Term) IsBlank() bool { return t.Kind == KindBlank }

// IsLiteral reports whether the term is a literal.
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// String returns the N-Triples rendering of the term.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := strconv.Quote(t.Value)
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return "?"
	}
}

// Triple is a single subject-predicate-object statement.
type Triple struct {
	S Term
	P Term
	O Term
}

// NewTriple creates a triple.
func NewTriple(s, p, o Term) Triple {
	return Triple{S: s, P: p, O: o}
}

// String returns the N-Triples line for the triple, without the newline.
func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s .", t.S, t.P, t.O)
}

// IsValid checks that the triple has the positional kinds RDF allows.
func (t Triple) IsValid() bool {
	if t.S.Kind != KindIRI && t.S.Kind != KindBlank {
		return false
	}
	if t.P.Kind != KindIRI {
		return false
	}
	return !t.O.IsZero()
}

// matches reports whether the triple agrees with every bound pattern term.
func (t Triple) matches(s, p, o Term) bool {
	if !s.IsZero() && s != t.S {
		return false
	}
	if !p.IsZero() && p != t.P {
		return false
	}
	if !o.IsZero() && o != t.O {
		return false
	}
	return true
}
