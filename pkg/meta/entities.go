package meta

import (
	"fmt"
	"slices"

	"github.com/duynguyendang/kbfuse/pkg/pattern"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Entity is one member of a category in a knowledge base, with the values
// the pattern's other variables took for it.
type Entity struct {
	Ref        EntityRef             `json:"ref"`
	Attributes map[string][]rdf.Term `json:"-"`
}

// Attribute returns the lexical values of one attribute.
func (e Entity) Attribute(name string) []string {
	vals := e.Attributes[name]
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.Value
	}
	return out
}

// ExtractEntities evaluates a category pattern over g and groups the
// solutions by entity. Only IRI entities are returned; blank nodes and
// literals cannot be mapped across knowledge bases.
func ExtractEntities(kb processor.KnowledgeBaseID, cp CategoryPattern, g rdf.Graph) ([]Entity, error) {
	p, err := pattern.Compile(cp.IdentityVariable, cp.Pattern)
	if err != nil {
		return nil, err
	}

	index := make(map[rdf.Term]int)
	var out []Entity
	for m := range pattern.Extract(p, cp.IdentityVariable, g) {
		if !m.Entity.IsIRI() {
			continue
		}
		i, ok := index[m.Entity]
		if !ok {
			i = len(out)
			index[m.Entity] = i
			out = append(out, Entity{
				Ref:        EntityRef{KnowledgeBase: kb, IRI: m.Entity.Value},
				Attributes: make(map[string][]rdf.Term),
			})
		}
		attrs := out[i].Attributes
		for name, v := range m.Bindings {
			if !slices.Contains(attrs[name], v) {
				attrs[name] = append(attrs[name], v)
			}
		}
	}
	slices.SortFunc(out, func(a, b Entity) int { return compareRefs(a.Ref, b.Ref) })
	return out, nil
}

// CategoryEntities extracts the category's entities from every knowledge
// base in data that the category has a pattern for.
func CategoryEntities(c Category, data map[processor.KnowledgeBaseID][]rdf.Graph) (map[processor.KnowledgeBaseID][]Entity, error) {
	out := make(map[processor.KnowledgeBaseID][]Entity)
	for kb, graphs := range data {
		cp, ok := c.PatternFor(kb)
		if !ok {
			continue
		}
		entities, err := ExtractEntities(kb, cp, rdf.NewUnion(slices.Clone(graphs)...))
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c.Name, err)
		}
		out[kb] = entities
	}
	return out, nil
}
