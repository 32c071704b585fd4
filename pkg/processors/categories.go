package processors

import (
	"context"
	"fmt"

	"github.com/duynguyendang/kbfuse/pkg/meta"
	"github.com/duynguyendang/kbfuse/pkg/pattern"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// CategorySpec declares one category pattern.
type CategorySpec struct {
	Name             string `json:"name" validate:"required"`
	IdentityVariable string `json:"identity_variable" validate:"required"`
	Pattern          string `json:"pattern" validate:"required"`
	// KnowledgeBase is a plan-level name or ID. Empty applies the pattern to
	// every knowledge base without its own.
	KnowledgeBase string `json:"knowledge_base,omitempty"`
}

// CategoriesParams configures the categories processor.
type CategoriesParams struct {
	Categories []CategorySpec `json:"categories" validate:"required,min=1,dive"`
}

// Validate checks every pattern against its identity variable, so a bad
// pattern is rejected when the plan is built.
func (p *CategoriesParams) Validate() error {
	for i, c := range p.Categories {
		if err := pattern.Validate(c.IdentityVariable, c.Pattern); err != nil {
			return &processor.ParameterError{
				Field:  fmt.Sprintf("categories[%d].pattern", i),
				Reason: err.Error(),
				Cause:  err,
			}
		}
	}
	return nil
}

// Categories records category definitions in the meta graph.
var Categories = processor.Define("categories", processor.KindRefinement,
	"declare entity categories by graph pattern",
	func(p CategoriesParams) (processor.Computer, error) {
		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			c := meta.NewContribution(in.Processor)
			for _, cs := range p.Categories {
				var kb processor.KnowledgeBaseID
				if cs.KnowledgeBase != "" {
					id, err := resolveKnowledgeBase(in, cs.KnowledgeBase)
					if err != nil {
						return nil, fmt.Errorf("category %q: %w", cs.Name, err)
					}
					kb = id
				}
				if err := c.AddCategory(cs.Name, meta.CategoryPattern{
					KnowledgeBase:    kb,
					IdentityVariable: cs.IdentityVariable,
					Pattern:          cs.Pattern,
				}); err != nil {
					return nil, err
				}
			}
			in.Log().Debug("categories declared", "count", len(p.Categories))
			return &processor.Output{Meta: c.Graph()}, nil
		}), nil
	})

func resolveKnowledgeBase(in *processor.Input, ref string) (processor.KnowledgeBaseID, error) {
	if id, ok := in.KnowledgeBases[ref]; ok {
		return id, nil
	}
	return processor.ParseKnowledgeBaseID(ref)
}
