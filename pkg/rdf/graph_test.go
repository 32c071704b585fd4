package rdf

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tr(s, p, o string) Triple {
	return NewTriple(IRI("urn:"+s), IRI("urn:"+p), Literal(o))
}

func TestMemory_DedupAndMatch(t *testing.T) {
	g := NewGraph(
		tr("a", "label", "A"),
		tr("a", "label", "A"),
		tr("a", "type", "X"),
		tr("b", "label", "B"),
	)
	require.Equal(t, 3, g.Len())

	count := func(s, p, o Term) int {
		n := 0
		for range g.Match(s, p, o) {
			n++
		}
		return n
	}

	assert.Equal(t, 3, count(Term{}, Term{}, Term{}))
	assert.Equal(t, 2, count(IRI("urn:a"), Term{}, Term{}))
	assert.Equal(t, 2, count(Term{}, IRI("urn:label"), Term{}))
	assert.Equal(t, 1, count(Term{}, Term{}, Literal("B")))
	assert.Equal(t, 1, count(IRI("urn:a"), IRI("urn:label"), Literal("A")))
	assert.Equal(t, 0, count(IRI("urn:a"), IRI("urn:label"), Literal("B")))
	assert.Equal(t, 0, count(IRI("urn:missing"), Term{}, Term{}))

	assert.True(t, g.Contains(tr("b", "label", "B")))
	assert.False(t, g.Contains(tr("b", "label", "A")))
}

func TestEmptyGraph(t *testing.T) {
	g := NewBuilder().Build()
	assert.Same(t, Empty(), g)
	assert.Equal(t, 0, g.Len())
	for range g.Match(IRI("urn:a"), Term{}, Term{}) {
		t.Fatal("empty graph matched")
	}
}

func TestBuilder_Concurrent(t *testing.T) {
	b := NewBuilder()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Add(tr(fmt.Sprint(i), "p", "o"))
			}
		}()
	}
	wg.Wait()
	g := b.Build()
	assert.Equal(t, 50, g.Len())
	assert.False(t, b.Add(tr("late", "p", "o")))
}

func TestTerm_String(t *testing.T) {
	assert.Equal(t, "<urn:a>", IRI("urn:a").String())
	assert.Equal(t, "_:b1", Blank("_:b1").String())
	assert.Equal(t, `"x"@en`, LangLiteral("x", "EN").String())
	assert.Equal(t, `"1"^^<`+XSDInteger+`>`, TypedLiteral("1", XSDInteger).String())
	assert.Equal(t, Literal("s"), TypedLiteral("s", XSDString))
	assert.True(t, tr("a", "p", "o").IsValid())
	assert.False(t, NewTriple(Literal("a"), IRI("urn:p"), Literal("o")).IsValid())
}

func TestUnion_DuplicatesAcrossMembers(t *testing.T) {
	g1 := NewGraph(tr("a", "p", "1"), tr("b", "p", "2"))
	g2 := NewGraph(tr("a", "p", "1"), tr("c", "p", "3"))
	u := NewUnion(g1, g2)

	assert.Equal(t, 4, u.Len())
	distinct := 0
	for range Distinct(u) {
		distinct++
	}
	assert.Equal(t, 3, distinct)

	matched := 0
	for range DistinctMatch(u, IRI("urn:a"), Term{}, Term{}) {
		matched++
	}
	assert.Equal(t, 1, matched)
	assert.Equal(t, 3, Materialize(u).Len())
}

func TestUnionBuilder_Freeze(t *testing.T) {
	g1 := NewGraph(tr("a", "p", "1"))
	g2 := NewGraph(tr("b", "p", "2"))

	b := NewUnionBuilder(g1)
	require.NoError(t, b.Add(g2))
	require.NoError(t, b.Add(g1)) // same instance, ignored
	require.NoError(t, b.Add(nil))

	u := b.Freeze()
	assert.Len(t, u.Members(), 2)
	assert.Same(t, u, b.Freeze())
	assert.ErrorIs(t, b.Add(NewGraph(tr("c", "p", "3"))), ErrFrozen)
	assert.Len(t, u.Members(), 2)

	// Members returns a copy.
	m := u.Members()
	m[0] = nil
	assert.NotNil(t, u.Members()[0])
}

func TestUnion_OrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	buildMembers := func(ids [][]int) []Graph {
		members := make([]Graph, 0, len(ids))
		for _, group := range ids {
			b := NewBuilder()
			for _, id := range group {
				b.Add(tr(fmt.Sprint(id%7), "p", fmt.Sprint(id)))
			}
			members = append(members, b.Build())
		}
		return members
	}

	properties.Property("union equals set union of members in any order", prop.ForAll(
		func(ids [][]int, rot int) bool {
			members := buildMembers(ids)

			want := make(map[Triple]struct{})
			for _, g := range members {
				for t := range g.Triples() {
					want[t] = struct{}{}
				}
			}

			reversed := make([]Graph, len(members))
			for i, g := range members {
				reversed[len(members)-1-i] = g
			}
			rotated := make([]Graph, len(members))
			for i := range members {
				rotated[i] = members[(i+rot)%len(members)]
			}
			doubled := append(append([]Graph{}, members...), members...)

			for _, order := range [][]Graph{members, reversed, rotated, doubled} {
				b := NewUnionBuilder()
				for _, g := range order {
					if b.Add(g) != nil {
						return false
					}
				}
				got := Set(b.Freeze())
				if len(got) != len(want) {
					return false
				}
				for t := range want {
					if _, ok := got[t]; !ok {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.SliceOf(gen.IntRange(0, 30))),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
