package meta

import (
	"cmp"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// ErrConflictingPolarity is returned when one processor asserts both
// polarities for the same ordered entity pair.
var ErrConflictingPolarity = fmt.Errorf("conflicting mapping polarity: %w", apperrors.ErrConflict)

// Polarity says whether two entities are the same real-world thing.
type Polarity int

const (
	Positive Polarity = iota + 1
	Negative
)

func (p Polarity) String() string {
	switch p {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "unknown"
	}
}

// MarshalText renders the polarity name.
func (p Polarity) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParsePolarity parses "positive" or "negative".
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return Positive, nil
	case "negative":
		return Negative, nil
	default:
		return 0, fmt.Errorf("unknown polarity %q: %w", s, apperrors.ErrInvalidInput)
	}
}

// EntityRef is an entity IRI scoped to a knowledge base.
type EntityRef struct {
	KnowledgeBase processor.KnowledgeBaseID `json:"knowledge_base"`
	IRI           string                    `json:"iri"`
}

func (e EntityRef) String() string {
	return string(e.KnowledgeBase) + "|" + e.IRI
}

func compareRefs(a, b EntityRef) int {
	if c := cmp.Compare(a.KnowledgeBase, b.KnowledgeBase); c != 0 {
		return c
	}
	return cmp.Compare(a.IRI, b.IRI)
}

// CategoryPattern is the schema-specific definition of a category for one
// knowledge base. An empty KnowledgeBase applies to every knowledge base
// without a pattern of its own.
type CategoryPattern struct {
	KnowledgeBase    processor.KnowledgeBaseID `json:"knowledge_base,omitempty"`
	IdentityVariable string                    `json:"identity_variable"`
	Pattern          string                    `json:"pattern"`
	DefinedBy        processor.ID              `json:"defined_by,omitempty"`
}

// Category is a logical entity class with its per-knowledge-base patterns.
type Category struct {
	Name     string            `json:"name"`
	Patterns []CategoryPattern `json:"patterns"`
}

// PatternFor returns the pattern that applies to kb: the knowledge base's
// own pattern if there is one, otherwise the default pattern.
func (c Category) PatternFor(kb processor.KnowledgeBaseID) (CategoryPattern, bool) {
	var fallback *CategoryPattern
	for i, p := range c.Patterns {
		if p.KnowledgeBase == kb {
			return p, true
		}
		if p.KnowledgeBase == "" && fallback == nil {
			fallback = &c.Patterns[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return CategoryPattern{}, false
}

// Mapping is one processor's statement that two entities from different
// knowledge bases do or do not correspond within a category.
type Mapping struct {
	Category   string       `json:"category"`
	Source     EntityRef    `json:"source"`
	Target     EntityRef    `json:"target"`
	Polarity   Polarity     `json:"polarity"`
	AssertedBy processor.ID `json:"asserted_by"`
	// Confidence is optional; zero means not stated.
	Confidence float64 `json:"confidence,omitempty"`
}

func (m Mapping) validate() error {
	switch {
	case m.Category == "":
		return errors.New("mapping has no category")
	case m.Source.IRI == "" || m.Target.IRI == "":
		return errors.New("mapping endpoint has no IRI")
	case m.Source.KnowledgeBase == "" || m.Target.KnowledgeBase == "":
		return errors.New("mapping endpoint has no knowledge base")
	case m.Source.KnowledgeBase == m.Target.KnowledgeBase:
		return fmt.Errorf("mapping endpoints share knowledge base %s", m.Source.KnowledgeBase)
	case m.Polarity != Positive && m.Polarity != Negative:
		return fmt.Errorf("mapping polarity %d is not valid", m.Polarity)
	case m.Confidence < 0 || m.Confidence > 1:
		return fmt.Errorf("mapping confidence %v outside [0,1]", m.Confidence)
	}
	return nil
}

// Pair is an unordered entity pair within a category. A is the smaller
// endpoint.
type Pair struct {
	Category string    `json:"category"`
	A        EntityRef `json:"a"`
	B        EntityRef `json:"b"`
}

// Pair returns the unordered pair the mapping is about.
func (m Mapping) Pair() Pair {
	a, b := m.Source, m.Target
	if compareRefs(a, b) > 0 {
		a, b = b, a
	}
	return Pair{Category: m.Category, A: a, B: b}
}

func comparePairs(x, y Pair) int {
	if c := cmp.Compare(x.Category, y.Category); c != 0 {
		return c
	}
	if c := compareRefs(x.A, y.A); c != 0 {
		return c
	}
	return compareRefs(x.B, y.B)
}

func compareMappings(x, y Mapping) int {
	if c := cmp.Compare(x.Category, y.Category); c != 0 {
		return c
	}
	if c := compareRefs(x.Source, y.Source); c != 0 {
		return c
	}
	if c := compareRefs(x.Target, y.Target); c != 0 {
		return c
	}
	if c := cmp.Compare(x.AssertedBy, y.AssertedBy); c != 0 {
		return c
	}
	return cmp.Compare(x.Polarity, y.Polarity)
}
