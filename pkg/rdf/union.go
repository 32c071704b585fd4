package rdf

import (
	"errors"
	"iter"
	"sync"
)

// ErrFrozen is returned when a member is added to a frozen union builder.
var ErrFrozen = errors.New("union builder is frozen")

// Union is a read-only view over member graphs. It never copies triples;
// iteration visits each member in turn, so a triple held by two members is
// yielded twice. Use Distinct or DistinctMatch when set semantics matter.
type Union struct {
	members []Graph
}

// NewUnion creates a union view. The union takes ownership of the slice it
// is given; callers must not modify it afterwards.
func NewUnion(graphs ...Graph) *Union {
	return &Union{members: graphs}
}

// Members returns a copy of the member list.
func (u *Union) Members() []Graph {
	out := make([]Graph, len(u.members))
	copy(out, u.members)
	return out
}

// Triples iterates the members' triples in member order.
func (u *Union) Triples() iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		for _, g := range u.members {
			for t := range g.Triples() {
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Match delegates to every member.
func (u *Union) Match(s, p, o Term) iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		for _, g := range u.members {
			for t := range g.Match(s, p, o) {
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Len sums the member sizes.
func (u *Union) Len() int {
	n := 0
	for _, g := range u.members {
		n += g.Len()
	}
	return n
}

// UnionBuilder assembles the member list of a union during pipeline
// assembly. Members can be appended until Freeze is called; the frozen Union
// is then immutable, so a reader can never observe a half-built member list.
type UnionBuilder struct {
	mu      sync.Mutex
	members []Graph
	seen    map[Graph]struct{}
	frozen  *Union
}

// NewUnionBuilder creates a builder seeded with the given members.
func NewUnionBuilder(members ...Graph) *UnionBuilder {
	b := &UnionBuilder{seen: make(map[Graph]struct{})}
	for _, g := range members {
		_ = b.Add(g)
	}
	return b
}

// Add appends a member graph. Adding the same graph instance twice is a
// no-op. Nil graphs are ignored.
func (b *UnionBuilder) Add(g Graph) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen != nil {
		return ErrFrozen
	}
	if g == nil {
		return nil
	}
	if _, ok := b.seen[g]; ok {
		return nil
	}
	b.seen[g] = struct{}{}
	b.members = append(b.members, g)
	return nil
}

// Freeze returns the immutable union. Subsequent calls return the same
// union and further Add calls fail with ErrFrozen.
func (b *UnionBuilder) Freeze() *Union {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen == nil {
		b.frozen = NewUnion(b.members...)
		b.members = nil
		b.seen = nil
	}
	return b.frozen
}
