package meta

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/pattern"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

var (
	kb1 = processor.KnowledgeBaseIDFromName("kb1")
	kb2 = processor.KnowledgeBaseIDFromName("kb2")
)

func ref(kb processor.KnowledgeBaseID, name string) EntityRef {
	return EntityRef{KnowledgeBase: kb, IRI: "http://ex.org/" + name}
}

func TestContribution_MappingAttribution(t *testing.T) {
	c := NewContribution("matcher")
	require.NoError(t, c.AddMapping(Mapping{
		Category:   "entity",
		Source:     ref(kb1, "jena"),
		Target:     ref(kb2, "jena"),
		Polarity:   Positive,
		AssertedBy: "someone-else",
		Confidence: 0.75,
	}))

	ms := Mappings(c.Graph())
	require.Len(t, ms, 1)
	assert.Equal(t, processor.ID("matcher"), ms[0].AssertedBy)
	assert.Equal(t, Positive, ms[0].Polarity)
	assert.Equal(t, ref(kb1, "jena"), ms[0].Source)
	assert.Equal(t, ref(kb2, "jena"), ms[0].Target)
	assert.Equal(t, 0.75, ms[0].Confidence)
	assert.Equal(t, []processor.ID{"matcher"}, Asserters(c.Graph()))
}

func TestContribution_Polarity(t *testing.T) {
	c := NewContribution("p")
	m := Mapping{Category: "entity", Source: ref(kb1, "a"), Target: ref(kb2, "b"), Polarity: Positive}

	require.NoError(t, c.AddMapping(m))
	require.NoError(t, c.AddMapping(m), "same polarity is a no-op")
	assert.Equal(t, 1, c.Mappings())

	m.Polarity = Negative
	err := c.AddMapping(m)
	assert.ErrorIs(t, err, ErrConflictingPolarity)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// The reverse direction is a different ordered pair.
	rev := Mapping{Category: "entity", Source: ref(kb2, "b"), Target: ref(kb1, "a"), Polarity: Negative}
	require.NoError(t, c.AddMapping(rev))
	assert.Len(t, Mappings(c.Graph()), 2)
}

func TestContribution_InvalidMappings(t *testing.T) {
	c := NewContribution("p")
	for name, m := range map[string]Mapping{
		"same kb":     {Category: "e", Source: ref(kb1, "a"), Target: ref(kb1, "b"), Polarity: Positive},
		"no category": {Source: ref(kb1, "a"), Target: ref(kb2, "b"), Polarity: Positive},
		"no polarity": {Category: "e", Source: ref(kb1, "a"), Target: ref(kb2, "b")},
		"no iri":      {Category: "e", Source: EntityRef{KnowledgeBase: kb1}, Target: ref(kb2, "b"), Polarity: Positive},
		"confidence":  {Category: "e", Source: ref(kb1, "a"), Target: ref(kb2, "b"), Polarity: Positive, Confidence: 2},
	} {
		assert.ErrorIs(t, c.AddMapping(m), apperrors.ErrInvalidInput, name)
	}
	assert.Equal(t, 0, c.Graph().Len())
}

func TestContribution_Categories(t *testing.T) {
	c := NewContribution("cats")
	require.NoError(t, c.AddCategory("entity", CategoryPattern{IdentityVariable: "entity", Pattern: `?entity <rdfs:label> ?label`}))
	require.NoError(t, c.AddCategory("person", CategoryPattern{KnowledgeBase: kb1, IdentityVariable: "p", Pattern: `?p a foaf:Person`}))
	require.NoError(t, c.AddCategory("person", CategoryPattern{KnowledgeBase: kb2, IdentityVariable: "p", Pattern: `?p a schema:Person`}))

	err := c.AddCategory("broken", CategoryPattern{IdentityVariable: "x", Pattern: `?entity <rdfs:label> ?label`})
	assert.ErrorIs(t, err, pattern.ErrMissingIdentityVariable)
	err = c.AddCategory("broken", CategoryPattern{IdentityVariable: "x", Pattern: `?x <rdfs:label`})
	assert.ErrorIs(t, err, pattern.ErrUnparseable)

	cats := Categories(c.Graph())
	require.Len(t, cats, 2)
	assert.Equal(t, "entity", cats[0].Name)
	assert.Equal(t, "person", cats[1].Name)
	require.Len(t, cats[1].Patterns, 2)
	assert.Equal(t, processor.ID("cats"), cats[1].Patterns[0].DefinedBy)

	person, ok := CategoryByName(c.Graph(), "person")
	require.True(t, ok)
	p1, ok := person.PatternFor(kb1)
	require.True(t, ok)
	assert.Equal(t, `?p a foaf:Person`, p1.Pattern)
	_, ok = person.PatternFor(processor.KnowledgeBaseIDFromName("kb3"))
	assert.False(t, ok)

	entity, _ := CategoryByName(c.Graph(), "entity")
	fallback, ok := entity.PatternFor(kb2)
	require.True(t, ok)
	assert.Equal(t, "entity", fallback.IdentityVariable)
}

func TestAssess(t *testing.T) {
	ms := []Mapping{
		{Category: "e", Source: ref(kb1, "a"), Target: ref(kb2, "a"), Polarity: Positive, AssertedBy: "p1"},
		{Category: "e", Source: ref(kb2, "a"), Target: ref(kb1, "a"), Polarity: Positive, AssertedBy: "p2"},
		{Category: "e", Source: ref(kb1, "b"), Target: ref(kb2, "b"), Polarity: Positive, AssertedBy: "p1"},
		{Category: "e", Source: ref(kb1, "b"), Target: ref(kb2, "b"), Polarity: Negative, AssertedBy: "p2"},
		{Category: "e", Source: ref(kb1, "c"), Target: ref(kb2, "d"), Polarity: Negative, AssertedBy: "p1"},
	}

	as := Assess(ms)
	require.Len(t, as, 3)
	status := map[string]PairStatus{}
	for _, a := range as {
		status[a.A.IRI+"~"+a.B.IRI] = a.Status
	}
	assert.Len(t, status, 3)

	var positive, conflicting, negative int
	for _, a := range as {
		switch a.Status {
		case StatusPositive:
			positive++
			assert.Equal(t, []processor.ID{"p1", "p2"}, a.Positive)
		case StatusConflicting:
			conflicting++
			assert.Equal(t, []processor.ID{"p1"}, a.Positive)
			assert.Equal(t, []processor.ID{"p2"}, a.Negative)
		case StatusNegative:
			negative++
		}
	}
	assert.Equal(t, 1, positive)
	assert.Equal(t, 1, conflicting)
	assert.Equal(t, 1, negative)

	conflicts := Conflicts(ms)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "http://ex.org/b", conflicts[0].A.IRI)
}

func TestMappings_UnionKeepsBothPolarities(t *testing.T) {
	a := NewContribution("a")
	b := NewContribution("b")
	pair := Mapping{Category: "e", Source: ref(kb1, "x"), Target: ref(kb2, "y")}

	pair.Polarity = Positive
	require.NoError(t, a.AddMapping(pair))
	pair.Polarity = Negative
	require.NoError(t, b.AddMapping(pair))

	merged := Mappings(rdf.NewUnion(a.Graph(), b.Graph()))
	require.Len(t, merged, 2)
	assert.Equal(t, merged, Mappings(rdf.NewUnion(b.Graph(), a.Graph())))
	assert.Len(t, Conflicts(merged), 1)
}

func TestMappings_UnionCommutativeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	// Each int encodes (source, target, polarity) for one mapping.
	build := func(id processor.ID, codes []int) *rdf.Memory {
		c := NewContribution(id)
		for _, code := range codes {
			m := Mapping{
				Category: "e",
				Source:   ref(kb1, fmt.Sprint(code%5)),
				Target:   ref(kb2, fmt.Sprint((code/5)%5)),
				Polarity: Positive,
			}
			if code%2 == 1 {
				m.Polarity = Negative
			}
			// Conflicts within one processor are rejected; skip them.
			_ = c.AddMapping(m)
		}
		return c.Graph()
	}

	properties.Property("merge order does not change the mapping set", prop.ForAll(
		func(xs, ys []int) bool {
			ga, gb := build("a", xs), build("b", ys)
			ab := Mappings(rdf.NewUnion(ga, gb))
			ba := Mappings(rdf.NewUnion(gb, ga))
			if len(ab) != len(ba) {
				return false
			}
			for i := range ab {
				if ab[i] != ba[i] {
					return false
				}
			}
			// Non-lossy: every side's mappings survive the merge.
			return len(ab) == len(Mappings(ga))+len(Mappings(gb))
		},
		gen.SliceOf(gen.IntRange(0, 49)),
		gen.SliceOf(gen.IntRange(0, 49)),
	))

	properties.TestingRun(t)
}

func TestExtractEntities(t *testing.T) {
	label := rdf.IRI(rdf.RDFSLabel)
	g := rdf.NewGraph(
		rdf.NewTriple(rdf.IRI("http://ex.org/jena"), label, rdf.Literal("Jena")),
		rdf.NewTriple(rdf.IRI("http://ex.org/jena"), label, rdf.LangLiteral("Jena", "de")),
		rdf.NewTriple(rdf.Blank("b0"), label, rdf.Literal("anonymous")),
	)

	entities, err := ExtractEntities(kb1, CategoryPattern{IdentityVariable: "e", Pattern: `?e rdfs:label ?label`}, g)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, ref(kb1, "jena"), entities[0].Ref)
	assert.ElementsMatch(t, []string{"Jena", "Jena"}, entities[0].Attribute("label"))

	_, err = ExtractEntities(kb1, CategoryPattern{IdentityVariable: "x", Pattern: `?e rdfs:label ?label`}, g)
	assert.ErrorIs(t, err, pattern.ErrMissingIdentityVariable)
}

func TestCategoryEntities(t *testing.T) {
	label := rdf.IRI(rdf.RDFSLabel)
	g1 := rdf.NewGraph(rdf.NewTriple(rdf.IRI("http://ex.org/a"), label, rdf.Literal("A")))
	g2 := rdf.NewGraph(rdf.NewTriple(rdf.IRI("http://ex.org/b"), label, rdf.Literal("B")))

	cat := Category{Name: "entity", Patterns: []CategoryPattern{{IdentityVariable: "e", Pattern: `?e rdfs:label ?l`}}}
	got, err := CategoryEntities(cat, map[processor.KnowledgeBaseID][]rdf.Graph{kb1: {g1}, kb2: {g2}})
	require.NoError(t, err)
	assert.Len(t, got[kb1], 1)
	assert.Len(t, got[kb2], 1)
}

func TestVocabularyRoundTrip(t *testing.T) {
	id, ok := ProcessorFromIRI(ProcessorIRI("load kb/1"))
	require.True(t, ok)
	assert.Equal(t, processor.ID("load kb/1"), id)

	kb, ok := KnowledgeBaseFromIRI(KnowledgeBaseIRI(kb1))
	require.True(t, ok)
	assert.Equal(t, kb1, kb)

	_, ok = ProcessorFromIRI(rdf.IRI("http://ex.org/x"))
	assert.False(t, ok)

	p, err := ParsePolarity("Negative")
	require.NoError(t, err)
	assert.Equal(t, Negative, p)
	_, err = ParsePolarity("maybe")
	assert.Error(t, err)
}
