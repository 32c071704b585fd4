// Package pattern implements the graph-pattern templates that define entity
// categories.
//
// A pattern is a conjunction of triple patterns in a small SPARQL-like
// syntax:
//
//	PREFIX ex: <http://example.org/>
//	?person a ex:Person ; rdfs:label ?name .
//
// Variables are written ?name (or $name). Blank nodes (_:x) act as
// variables that are never reported. IRIs may be written <full-iri>,
// prefix:local, or <prefix:local> when the prefix is well known.
package pattern

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Sentinel kinds carried by *Error.
var (
	ErrUnparseable             = errors.New("unparseable pattern")
	ErrMissingIdentityVariable = errors.New("identity variable missing from pattern")
)

// Error describes why a pattern was rejected.
type Error struct {
	Kind     error // ErrUnparseable or ErrMissingIdentityVariable
	Pattern  string
	Offset   int
	Variable string
	Detail   string
}

func (e *Error) Error() string {
	if errors.Is(e.Kind, ErrMissingIdentityVariable) {
		return fmt.Sprintf("%v: ?%s does not occur in %q", e.Kind, e.Variable, e.Pattern)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, apperrors.ErrInvalidInput}
}

// Node is one position of a triple pattern: either a variable or a constant.
type Node struct {
	Var  string
	Term rdf.Term
}

// IsVar reports whether the node is a variable.
func (n Node) IsVar() bool { return n.Var != "" }

func (n Node) String() string {
	if n.IsVar() {
		if strings.HasPrefix(n.Var, blankPrefix) {
			return "_:" + strings.TrimPrefix(n.Var, blankPrefix)
		}
		return "?" + n.Var
	}
	return n.Term.String()
}

// TriplePattern is a triple with variable positions.
type TriplePattern struct {
	S, P, O Node
}

func (tp TriplePattern) String() string {
	return fmt.Sprintf("%s %s %s .", tp.S, tp.P, tp.O)
}

// blankPrefix marks internal variables introduced for blank nodes. It cannot
// collide with user variables because '#' is not a name character.
const blankPrefix = "#b:"

// Pattern is a parsed, immutable graph-pattern template.
type Pattern struct {
	text     string
	triples  []TriplePattern
	vars     []string // user variables in order of first appearance
	internal []string // user and blank-node variables
}

// Text returns the source text.
func (p *Pattern) Text() string { return p.text }

// Triples returns the triple patterns.
func (p *Pattern) Triples() []TriplePattern {
	out := make([]TriplePattern, len(p.triples))
	copy(out, p.triples)
	return out
}

// Variables returns the named variables in order of first appearance.
func (p *Pattern) Variables() []string {
	out := make([]string, len(p.vars))
	copy(out, p.vars)
	return out
}

// HasVariable reports whether ?name occurs in the pattern. A leading '?' or
// '$' on name is ignored.
func (p *Pattern) HasVariable(name string) bool {
	name = normalizeVar(name)
	for _, v := range p.vars {
		if v == name {
			return true
		}
	}
	return false
}

func normalizeVar(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "?$")
}

// Validate parses text and checks that identityVariable occurs in it.
func Validate(identityVariable, text string) error {
	_, err := Compile(identityVariable, text)
	return err
}

// Compile parses text and checks the identity variable, returning the
// parsed pattern on success.
func Compile(identityVariable, text string) (*Pattern, error) {
	p, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if !p.HasVariable(identityVariable) {
		return nil, &Error{
			Kind:     ErrMissingIdentityVariable,
			Pattern:  text,
			Variable: normalizeVar(identityVariable),
		}
	}
	return p, nil
}
