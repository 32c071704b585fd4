// Package export renders entity correspondences as a D3 force-directed
// graph.
package export

import (
	"cmp"
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/duynguyendang/kbfuse/pkg/meta"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// D3Node represents an entity in the D3 force-directed graph.
type D3Node struct {
	ID            string            `json:"id"`              // knowledge base and IRI
	Name          string            `json:"name"`            // label, or the IRI's local name
	Kind          string            `json:"kind,omitempty"`  // category
	Group         string            `json:"group,omitempty"` // knowledge base name
	KnowledgeBase string            `json:"knowledge_base"`
	IRI           string            `json:"iri"`
	IsCovered     *bool             `json:"is_covered,omitempty"` // has a positive correspondence
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// D3Link represents a correspondence between two entities.
type D3Link struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	Relation         string  `json:"relation"` // category
	Weight           float64 `json:"weight,omitempty"`
	Type             string  `json:"type"`                 // pair status: positive, negative or conflicting
	SourceProvenance string  `json:"provenance,omitempty"` // asserting processors, comma separated
}

// D3Graph represents the full graph structure for D3.js.
type D3Graph struct {
	Nodes []D3Node `json:"nodes"`
	Links []D3Link `json:"links"`
}

// Section is the input for one category.
type Section struct {
	Category    string
	Entities    map[processor.KnowledgeBaseID][]meta.Entity
	Assessments []meta.PairAssessment
}

// D3Transformer converts category entities and pair assessments into a
// D3Graph.
type D3Transformer struct {
	// LabelAttribute names the pattern variable used as display name.
	LabelAttribute string
	// IncludeNegative adds links for pairs only asserted negatively.
	IncludeNegative bool
	// ExcludeIsolated drops entities without any link.
	ExcludeIsolated bool

	names map[processor.KnowledgeBaseID]string
}

// NewD3Transformer creates a transformer. knowledgeBases maps plan names to
// IDs and is used to label groups.
func NewD3Transformer(knowledgeBases map[string]processor.KnowledgeBaseID) *D3Transformer {
	t := &D3Transformer{
		LabelAttribute: "label",
		names:          make(map[processor.KnowledgeBaseID]string, len(knowledgeBases)),
	}
	for name, id := range knowledgeBases {
		t.names[id] = name
	}
	return t
}

// Transform builds the graph for the given sections.
func (t *D3Transformer) Transform(ctx context.Context, sections ...Section) (*D3Graph, error) {
	nodesMap := make(map[string]D3Node)
	links := []D3Link{}

	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, list := range s.Entities {
			for _, e := range list {
				nodesMap[nodeID(s.Category, e.Ref)] = t.createNode(s.Category, e)
			}
		}

		for _, a := range s.Assessments {
			if a.Status == meta.StatusNegative && !t.IncludeNegative {
				continue
			}
			src, dst := nodeID(s.Category, a.A), nodeID(s.Category, a.B)
			// Mapped entities outside the category's pattern still get a node.
			for id, ref := range map[string]meta.EntityRef{src: a.A, dst: a.B} {
				if _, ok := nodesMap[id]; !ok {
					nodesMap[id] = t.createNode(s.Category, meta.Entity{Ref: ref})
				}
			}

			asserters := append(slices.Clone(a.Positive), a.Negative...)
			slices.Sort(asserters)
			asserters = slices.Compact(asserters)
			names := make([]string, len(asserters))
			for i, id := range asserters {
				names[i] = string(id)
			}

			weight := float64(len(a.Positive))
			if a.Status == meta.StatusNegative {
				weight = float64(len(a.Negative))
			}
			links = append(links, D3Link{
				Source:           src,
				Target:           dst,
				Relation:         s.Category,
				Weight:           weight,
				Type:             a.Status.String(),
				SourceProvenance: strings.Join(names, ","),
			})
			if a.Status == meta.StatusPositive {
				markCovered(nodesMap, src)
				markCovered(nodesMap, dst)
			}
		}
	}

	if t.ExcludeIsolated {
		linked := make(map[string]bool)
		for _, l := range links {
			linked[l.Source] = true
			linked[l.Target] = true
		}
		for id := range nodesMap {
			if !linked[id] {
				delete(nodesMap, id)
			}
		}
	}

	nodes := make([]D3Node, 0, len(nodesMap))
	for _, n := range nodesMap {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b D3Node) int { return cmp.Compare(a.ID, b.ID) })

	return &D3Graph{
		Nodes: nodes,
		Links: links,
	}, nil
}

func nodeID(category string, ref meta.EntityRef) string {
	return category + "|" + ref.String()
}

func markCovered(nodes map[string]D3Node, id string) {
	n := nodes[id]
	covered := true
	n.IsCovered = &covered
	nodes[id] = n
}

// createNode builds a D3Node with its display name and attributes.
func (t *D3Transformer) createNode(category string, e meta.Entity) D3Node {
	group := t.names[e.Ref.KnowledgeBase]
	if group == "" {
		group = string(e.Ref.KnowledgeBase)
	}
	covered := false
	n := D3Node{
		ID:            nodeID(category, e.Ref),
		Name:          t.generateDisplayName(e),
		Kind:          category,
		Group:         group,
		KnowledgeBase: string(e.Ref.KnowledgeBase),
		IRI:           e.Ref.IRI,
		IsCovered:     &covered,
	}
	for name := range e.Attributes {
		if vals := e.Attribute(name); len(vals) > 0 {
			if n.Metadata == nil {
				n.Metadata = make(map[string]string)
			}
			n.Metadata[name] = strings.Join(vals, "; ")
		}
	}
	return n
}

// generateDisplayName prefers the label attribute, then the IRI fragment or
// last path segment.
func (t *D3Transformer) generateDisplayName(e meta.Entity) string {
	if vals := e.Attribute(t.LabelAttribute); len(vals) > 0 {
		return slices.Min(vals)
	}
	iri := strings.TrimRight(e.Ref.IRI, "/#")
	if i := strings.LastIndexAny(iri, "/#:"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}

// WriteD3Graph encodes the graph as indented JSON.
func WriteD3Graph(w io.Writer, graph *D3Graph) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(graph)
}

// SaveD3Graph writes the graph to a JSON file.
func SaveD3Graph(graph *D3Graph, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteD3Graph(f, graph)
}
