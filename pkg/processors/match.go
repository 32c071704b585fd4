package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agext/levenshtein"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/meta"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// LabelMatchParams configures the labelmatch processor.
type LabelMatchParams struct {
	Category string `json:"category" validate:"required"`
	// Attribute is the pattern variable compared across knowledge bases.
	Attribute string `json:"attribute,omitempty"`
	// Threshold is the minimum similarity for a positive mapping; zero
	// means exact match.
	Threshold float64 `json:"threshold,omitempty" validate:"gte=0,lte=1"`
	// NegativeBelow, when set, records a negative mapping for pairs whose
	// similarity falls below it.
	NegativeBelow float64 `json:"negative_below,omitempty" validate:"gte=0,lte=1"`
	CaseSensitive bool    `json:"case_sensitive,omitempty"`
}

// Validate checks that the negative band lies below the positive one.
func (p *LabelMatchParams) Validate() error {
	if p.Attribute == "" {
		p.Attribute = "label"
	}
	if p.Threshold == 0 {
		p.Threshold = 1
	}
	if p.NegativeBelow > p.Threshold {
		return errors.New("negative_below must not exceed threshold")
	}
	return nil
}

func (p *LabelMatchParams) normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if !p.CaseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func (p *LabelMatchParams) similarity(a, b meta.Entity) float64 {
	best := 0.0
	for _, x := range a.Attribute(p.Attribute) {
		x = p.normalize(x)
		if x == "" {
			continue
		}
		for _, y := range b.Attribute(p.Attribute) {
			y = p.normalize(y)
			if y == "" {
				continue
			}
			if s := levenshtein.Similarity(x, y, nil); s > best {
				best = s
			}
		}
	}
	return best
}

// findCategory reads a category from the ancestors' meta graph.
func findCategory(in *processor.Input, name string) (meta.Category, error) {
	c, ok := meta.CategoryByName(in.MetaGraph(), name)
	if !ok {
		return c, fmt.Errorf("category %q is not defined by any ancestor: %w", name, apperrors.ErrNotFound)
	}
	return c, nil
}

// LabelMatch maps entities of one category across knowledge bases by
// normalized Levenshtein similarity of an attribute.
var LabelMatch = processor.Define("labelmatch", processor.KindRefinement,
	"map category entities across knowledge bases by label similarity",
	func(p LabelMatchParams) (processor.Computer, error) {
		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			cat, err := findCategory(in, p.Category)
			if err != nil {
				return nil, err
			}
			entities, err := meta.CategoryEntities(cat, in.Data)
			if err != nil {
				return nil, err
			}

			kbs := in.KnowledgeBaseIDs()
			var total int64
			for i := range kbs {
				for j := i + 1; j < len(kbs); j++ {
					total += int64(len(entities[kbs[i]]) * len(entities[kbs[j]]))
				}
			}
			in.ReportProgress(0, total)

			c := meta.NewContribution(in.Processor)
			var done int64
			for i := range kbs {
				for j := i + 1; j < len(kbs); j++ {
					for _, a := range entities[kbs[i]] {
						if err := ctx.Err(); err != nil {
							return nil, err
						}
						for _, b := range entities[kbs[j]] {
							done++
							sim := p.similarity(a, b)
							m := meta.Mapping{Category: cat.Name, Source: a.Ref, Target: b.Ref, Confidence: sim}
							switch {
							case sim >= p.Threshold:
								m.Polarity = meta.Positive
							case p.NegativeBelow > 0 && sim < p.NegativeBelow:
								m.Polarity = meta.Negative
								m.Confidence = 1 - sim
							default:
								continue
							}
							if err := c.AddMapping(m); err != nil {
								return nil, err
							}
						}
						in.ReportProgress(done, total)
					}
				}
			}
			in.Log().Info("label matching finished", "category", cat.Name, "compared", total, "mappings", c.Mappings())
			return &processor.Output{Meta: c.Graph()}, nil
		}), nil
	})

// SameAsParams configures the sameas processor.
type SameAsParams struct {
	Category string `json:"category" validate:"required"`
}

// SameAs turns owl:sameAs links between category entities of different
// knowledge bases into positive mappings.
var SameAs = processor.Define("sameas", processor.KindRefinement,
	"harvest owl:sameAs links between knowledge bases as mappings",
	func(p SameAsParams) (processor.Computer, error) {
		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			cat, err := findCategory(in, p.Category)
			if err != nil {
				return nil, err
			}
			entities, err := meta.CategoryEntities(cat, in.Data)
			if err != nil {
				return nil, err
			}

			owner := make(map[string][]meta.EntityRef)
			for _, list := range entities {
				for _, e := range list {
					owner[e.Ref.IRI] = append(owner[e.Ref.IRI], e.Ref)
				}
			}

			c := meta.NewContribution(in.Processor)
			sameAs := rdf.IRI(rdf.OWLSameAs)
			for t := range rdf.DistinctMatch(in.AllData(), rdf.Term{}, sameAs, rdf.Term{}) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				for _, src := range owner[t.S.Value] {
					for _, dst := range owner[t.O.Value] {
						if src.KnowledgeBase == dst.KnowledgeBase {
							continue
						}
						if err := c.AddMapping(meta.Mapping{
							Category: cat.Name,
							Source:   src,
							Target:   dst,
							Polarity: meta.Positive,
						}); err != nil {
							return nil, err
						}
					}
				}
			}
			return &processor.Output{Meta: c.Graph()}, nil
		}), nil
	})

// Register adds every built-in type to reg.
func Register(reg *processor.Registry) error {
	for _, t := range []processor.Type{Source, Inline, Union, Filter, Categories, LabelMatch, SameAs} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in types.
func NewRegistry() *processor.Registry {
	reg := processor.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
