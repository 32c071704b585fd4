package report

import (
	"context"

	"github.com/duynguyendang/kbfuse/pkg/export"
	"github.com/duynguyendang/kbfuse/pkg/meta"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// Correspondence is a pair with positive assertions only.
type Correspondence struct {
	A          meta.EntityRef `json:"a"`
	B          meta.EntityRef `json:"b"`
	AssertedBy []processor.ID `json:"asserted_by"`
}

// CategoryCoverage is the coverage of one category.
type CategoryCoverage struct {
	Category        string                                 `json:"category"`
	Entities        map[processor.KnowledgeBaseID]int      `json:"entities"`
	Correspondences []Correspondence                       `json:"correspondences"`
	Uncovered       map[processor.KnowledgeBaseID][]string `json:"uncovered"`
	Conflicts       []meta.PairAssessment                  `json:"conflicts,omitempty"`
}

// UncoveredCount returns the number of uncovered entities across all
// knowledge bases.
func (c CategoryCoverage) UncoveredCount() int {
	n := 0
	for _, list := range c.Uncovered {
		n += len(list)
	}
	return n
}

// Coverage is the mapping-coverage report.
type Coverage struct {
	Processor  processor.ID       `json:"processor"`
	Categories []CategoryCoverage `json:"categories"`
}

func (*Coverage) Kind() Kind { return KindMappingCoverage }

// Category returns the coverage of one category.
func (c *Coverage) Category(name string) (CategoryCoverage, bool) {
	for _, cc := range c.Categories {
		if cc.Category == name {
			return cc, true
		}
	}
	return CategoryCoverage{}, false
}

func mappingCoverage(ctx context.Context, t Target, opts Options) (Result, error) {
	v, err := load(t)
	if err != nil {
		return nil, err
	}
	cats, err := v.categories(opts)
	if err != nil {
		return nil, err
	}

	out := &Coverage{Processor: t.ID(), Categories: []CategoryCoverage{}}
	for _, c := range cats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entities, err := meta.CategoryEntities(c, v.data)
		if err != nil {
			return nil, err
		}
		assessments := meta.Assess(meta.MappingsFor(v.meta, c.Name))
		out.Categories = append(out.Categories, categoryCoverage(c.Name, entities, assessments))
	}
	return out, nil
}

// categoryCoverage marks every endpoint of a positive pair covered; all
// other entities are uncovered. Negative and conflicting pairs cover
// nothing.
func categoryCoverage(name string, entities map[processor.KnowledgeBaseID][]meta.Entity, assessments []meta.PairAssessment) CategoryCoverage {
	cc := CategoryCoverage{
		Category:        name,
		Entities:        make(map[processor.KnowledgeBaseID]int, len(entities)),
		Correspondences: []Correspondence{},
		Uncovered:       make(map[processor.KnowledgeBaseID][]string, len(entities)),
	}

	covered := make(map[meta.EntityRef]bool)
	for _, a := range assessments {
		switch a.Status {
		case meta.StatusPositive:
			covered[a.A] = true
			covered[a.B] = true
			cc.Correspondences = append(cc.Correspondences, Correspondence{A: a.A, B: a.B, AssertedBy: a.Positive})
		case meta.StatusConflicting:
			cc.Conflicts = append(cc.Conflicts, a)
		}
	}

	for kb, list := range entities {
		cc.Entities[kb] = len(list)
		uncovered := []string{}
		for _, e := range list {
			if !covered[e.Ref] {
				uncovered = append(uncovered, e.Ref.IRI)
			}
		}
		cc.Uncovered[kb] = uncovered
	}
	return cc
}

// Conflicts is the mapping-conflicts report.
type Conflicts struct {
	Processor processor.ID          `json:"processor"`
	Conflicts []meta.PairAssessment `json:"conflicts"`
}

func (*Conflicts) Kind() Kind { return KindMappingConflicts }

func mappingConflicts(ctx context.Context, t Target, opts Options) (Result, error) {
	v, err := load(t)
	if err != nil {
		return nil, err
	}
	mappings := meta.Mappings(v.meta)
	if opts.Category != "" {
		mappings = meta.MappingsFor(v.meta, opts.Category)
	}
	conflicts := meta.Conflicts(mappings)
	if conflicts == nil {
		conflicts = []meta.PairAssessment{}
	}
	return &Conflicts{Processor: t.ID(), Conflicts: conflicts}, nil
}

// CategorySummary describes one category.
type CategorySummary struct {
	meta.Category
	Entities map[processor.KnowledgeBaseID]int `json:"entities"`
	Mappings int                               `json:"mappings"`
}

// CategoryList is the categories report.
type CategoryList struct {
	Processor  processor.ID      `json:"processor"`
	Categories []CategorySummary `json:"categories"`
}

func (*CategoryList) Kind() Kind { return KindCategories }

func categories(ctx context.Context, t Target, opts Options) (Result, error) {
	v, err := load(t)
	if err != nil {
		return nil, err
	}
	cats, err := v.categories(opts)
	if err != nil {
		return nil, err
	}

	out := &CategoryList{Processor: t.ID(), Categories: []CategorySummary{}}
	for _, c := range cats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entities, err := meta.CategoryEntities(c, v.data)
		if err != nil {
			return nil, err
		}
		counts := make(map[processor.KnowledgeBaseID]int, len(entities))
		for kb, list := range entities {
			counts[kb] = len(list)
		}
		out.Categories = append(out.Categories, CategorySummary{
			Category: c,
			Entities: counts,
			Mappings: len(meta.MappingsFor(v.meta, c.Name)),
		})
	}
	return out, nil
}

// Graph is the graph report.
type Graph struct {
	Processor processor.ID `json:"processor"`
	*export.D3Graph
}

func (*Graph) Kind() Kind { return KindGraph }

func graph(ctx context.Context, t Target, opts Options) (Result, error) {
	v, err := load(t)
	if err != nil {
		return nil, err
	}
	cats, err := v.categories(opts)
	if err != nil {
		return nil, err
	}

	sections := make([]export.Section, 0, len(cats))
	for _, c := range cats {
		entities, err := meta.CategoryEntities(c, v.data)
		if err != nil {
			return nil, err
		}
		sections = append(sections, export.Section{
			Category:    c.Name,
			Entities:    entities,
			Assessments: meta.Assess(meta.MappingsFor(v.meta, c.Name)),
		})
	}
	g, err := export.NewD3Transformer(opts.KnowledgeBases).Transform(ctx, sections...)
	if err != nil {
		return nil, err
	}
	return &Graph{Processor: t.ID(), D3Graph: g}, nil
}
