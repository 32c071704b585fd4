package export

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/kbfuse/pkg/meta"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

var (
	kb1 = processor.KnowledgeBaseIDFromName("kb1")
	kb2 = processor.KnowledgeBaseIDFromName("kb2")
)

func entity(kb processor.KnowledgeBaseID, iri, label string) meta.Entity {
	e := meta.Entity{Ref: meta.EntityRef{KnowledgeBase: kb, IRI: iri}, Attributes: map[string][]rdf.Term{}}
	if label != "" {
		e.Attributes["label"] = []rdf.Term{rdf.Literal(label)}
	}
	return e
}

func testSection() Section {
	jena1 := entity(kb1, "http://kb1.org/jena", "Jena")
	jena2 := entity(kb2, "http://kb2.org/jena", "Jena")
	alpha := entity(kb1, "http://kb1.org/alpha", "")
	return Section{
		Category: "entity",
		Entities: map[processor.KnowledgeBaseID][]meta.Entity{kb1: {jena1, alpha}, kb2: {jena2}},
		Assessments: meta.Assess([]meta.Mapping{
			{Category: "entity", Source: jena1.Ref, Target: jena2.Ref, Polarity: meta.Positive, AssertedBy: "match"},
			{Category: "entity", Source: alpha.Ref, Target: jena2.Ref, Polarity: meta.Negative, AssertedBy: "match"},
		}),
	}
}

func TestD3Transformer(t *testing.T) {
	tr := NewD3Transformer(map[string]processor.KnowledgeBaseID{"kb1": kb1, "kb2": kb2})
	graph, err := tr.Transform(context.Background(), testSection())
	require.NoError(t, err)

	require.Len(t, graph.Nodes, 3)
	byIRI := map[string]D3Node{}
	for _, n := range graph.Nodes {
		byIRI[n.IRI] = n
	}

	jena := byIRI["http://kb1.org/jena"]
	assert.Equal(t, "Jena", jena.Name)
	assert.Equal(t, "kb1", jena.Group)
	assert.Equal(t, "entity", jena.Kind)
	require.NotNil(t, jena.IsCovered)
	assert.True(t, *jena.IsCovered)
	assert.Equal(t, "Jena", jena.Metadata["label"])

	alpha := byIRI["http://kb1.org/alpha"]
	assert.Equal(t, "alpha", alpha.Name, "falls back to the IRI's last segment")
	assert.False(t, *alpha.IsCovered)

	require.Len(t, graph.Links, 1, "negative pairs are hidden by default")
	assert.Equal(t, "positive", graph.Links[0].Type)
	assert.Equal(t, "match", graph.Links[0].SourceProvenance)
	assert.Equal(t, 1.0, graph.Links[0].Weight)

	tr.IncludeNegative = true
	tr.ExcludeIsolated = true
	graph, err = tr.Transform(context.Background(), testSection())
	require.NoError(t, err)
	assert.Len(t, graph.Links, 2)
	assert.Len(t, graph.Nodes, 3)
}

func TestD3Transformer_Empty(t *testing.T) {
	graph, err := NewD3Transformer(nil).Transform(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteD3Graph(&buf, graph))
	assert.JSONEq(t, `{"nodes":[],"links":[]}`, buf.String())
}

func TestSaveD3Graph(t *testing.T) {
	graph, err := NewD3Transformer(nil).Transform(context.Background(), testSection())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, SaveD3Graph(graph, path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var back D3Graph
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back.Nodes, 3)
	for _, n := range back.Nodes {
		assert.Equal(t, n.KnowledgeBase, n.Group, "unnamed knowledge bases are grouped by ID")
	}
}
