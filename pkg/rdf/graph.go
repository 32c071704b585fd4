package rdf

import (
	"iter"
	"slices"
	"sync"
)

// Graph is a read-only set of triples.
//
// Implementations are safe for concurrent readers. Match treats zero terms
// as wildcards. Len counts stored triples, which for unions may include
// duplicates held by several members.
type Graph interface {
	Triples() iter.Seq[Triple]
	Match(s, p, o Term) iter.Seq[Triple]
	Len() int
}

// Memory is an immutable, indexed in-memory graph. Build one with a Builder
// or NewGraph.
type Memory struct {
	triples     []Triple
	bySubject   map[Term][]int32
	byPredicate map[Term][]int32
	byObject    map[Term][]int32
}

var emptyGraph = &Memory{}

// Empty returns the shared empty graph.
func Empty() *Memory {
	return emptyGraph
}

// NewGraph builds a graph from the given triples, dropping duplicates.
func NewGraph(triples ...Triple) *Memory {
	b := NewBuilder()
	for _, t := range triples {
		b.Add(t)
	}
	return b.Build()
}

// Triples iterates all triples in insertion order.
func (m *Memory) Triples() iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		for _, t := range m.triples {
			if !yield(t) {
				return
			}
		}
	}
}

// Len returns the number of distinct triples.
func (m *Memory) Len() int {
	return len(m.triples)
}

// Contains reports whether the exact triple is present.
func (m *Memory) Contains(t Triple) bool {
	for range m.Match(t.S, t.P, t.O) {
		return true
	}
	return false
}

// Match iterates triples agreeing with every bound term. The most selective
// bound position drives the scan.
func (m *Memory) Match(s, p, o Term) iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		candidates, indexed := m.candidates(s, p, o)
		if !indexed {
			for _, t := range m.triples {
				if t.matches(s, p, o) && !yield(t) {
					return
				}
			}
			return
		}
		for _, i := range candidates {
			t := m.triples[i]
			if t.matches(s, p, o) && !yield(t) {
				return
			}
		}
	}
}

// candidates picks the smallest posting list among the bound positions.
func (m *Memory) candidates(s, p, o Term) ([]int32, bool) {
	var best []int32
	found := false
	consider := func(index map[Term][]int32, key Term) {
		if key.IsZero() {
			return
		}
		list := index[key]
		if !found || len(list) < len(best) {
			best = list
			found = true
		}
	}
	consider(m.bySubject, s)
	consider(m.byObject, o)
	consider(m.byPredicate, p)
	return best, found
}

// Builder accumulates triples for a Memory graph. It is safe for concurrent
// use; Build may be called once.
type Builder struct {
	mu      sync.Mutex
	seen    map[Triple]struct{}
	triples []Triple
	built   bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[Triple]struct{})}
}

// Add appends a triple unless it is already present. It returns false for
// duplicates and after Build has been called.
func (b *Builder) Add(t Triple) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built {
		return false
	}
	if _, ok := b.seen[t]; ok {
		return false
	}
	b.seen[t] = struct{}{}
	b.triples = append(b.triples, t)
	return true
}

// AddAll adds every triple of the sequence.
func (b *Builder) AddAll(seq iter.Seq[Triple]) {
	for t := range seq {
		b.Add(t)
	}
}

// Len returns the number of distinct triples added so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.triples)
}

// Build freezes the builder into an indexed graph.
func (b *Builder) Build() *Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = true
	if len(b.triples) == 0 {
		return emptyGraph
	}

	m := &Memory{
		triples:     slices.Clip(b.triples),
		bySubject:   make(map[Term][]int32),
		byPredicate: make(map[Term][]int32),
		byObject:    make(map[Term][]int32),
	}
	for i, t := range m.triples {
		idx := int32(i)
		m.bySubject[t.S] = append(m.bySubject[t.S], idx)
		m.byPredicate[t.P] = append(m.byPredicate[t.P], idx)
		m.byObject[t.O] = append(m.byObject[t.O], idx)
	}
	b.seen = nil
	return m
}

// Distinct iterates the distinct triples of any graph.
func Distinct(g Graph) iter.Seq[Triple] {
	return distinct(g.Triples())
}

// DistinctMatch is Match with set semantics.
func DistinctMatch(g Graph, s, p, o Term) iter.Seq[Triple] {
	return distinct(g.Match(s, p, o))
}

func distinct(seq iter.Seq[Triple]) iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		seen := make(map[Triple]struct{})
		for t := range seq {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			if !yield(t) {
				return
			}
		}
	}
}

// Set collects the distinct triples of a graph.
func Set(g Graph) map[Triple]struct{} {
	out := make(map[Triple]struct{})
	for t := range g.Triples() {
		out[t] = struct{}{}
	}
	return out
}

// Equal reports whether two graphs hold the same set of triples.
func Equal(a, b Graph) bool {
	sa, sb := Set(a), Set(b)
	if len(sa) != len(sb) {
		return false
	}
	for t := range sa {
		if _, ok := sb[t]; !ok {
			return false
		}
	}
	return true
}

// Materialize copies any graph into a deduplicated Memory graph.
func Materialize(g Graph) *Memory {
	if m, ok := g.(*Memory); ok {
		return m
	}
	b := NewBuilder()
	b.AddAll(g.Triples())
	return b.Build()
}
