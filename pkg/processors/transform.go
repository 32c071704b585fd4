package processors

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// inputKnowledgeBase picks the knowledge base a transformation works on:
// the declared one, or the only one in its input.
func inputKnowledgeBase(in *processor.Input) (processor.KnowledgeBaseID, error) {
	if in.KnowledgeBase != "" {
		return in.KnowledgeBase, nil
	}
	ids := in.KnowledgeBaseIDs()
	if len(ids) != 1 {
		return "", fmt.Errorf("input spans %d knowledge bases; declare knowledge_base", len(ids))
	}
	return ids[0], nil
}

// Union merges every upstream graph of one knowledge base into a single
// union view. No triples are copied.
var Union = processor.Define("union", processor.KindTransformation,
	"merge the upstream graphs of one knowledge base into a single view",
	func(struct{}) (processor.Computer, error) {
		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			kb, err := inputKnowledgeBase(in)
			if err != nil {
				return nil, err
			}
			graphs := in.Data[kb]
			if len(graphs) == 0 {
				return nil, fmt.Errorf("no input graphs for knowledge base %s", kb)
			}
			return &processor.Output{Graph: rdf.NewUnion(slices.Clone(graphs)...)}, nil
		}), nil
	})

// FilterParams configures the filter processor.
type FilterParams struct {
	Predicates []string `json:"predicates" validate:"required,min=1,dive,required"`
	// Exclude drops the listed predicates instead of keeping them.
	Exclude bool `json:"exclude,omitempty"`
}

// Validate rejects literals and variables in the predicate list.
func (p *FilterParams) Validate() error {
	for _, pred := range p.Predicates {
		if pred[0] == '?' || pred[0] == '"' {
			return errors.New("predicates must be IRIs or prefixed names")
		}
	}
	return nil
}

// Filter keeps (or drops) the triples with the listed predicates.
var Filter = processor.Define("filter", processor.KindTransformation,
	"keep or drop triples by predicate",
	func(p FilterParams) (processor.Computer, error) {
		keep := make(map[rdf.Term]bool, len(p.Predicates))
		for _, pred := range p.Predicates {
			iri := pred
			if len(iri) > 1 && iri[0] == '<' && iri[len(iri)-1] == '>' {
				iri = iri[1 : len(iri)-1]
			}
			keep[rdf.IRI(rdf.Expand(iri))] = true
		}

		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			kb, err := inputKnowledgeBase(in)
			if err != nil {
				return nil, err
			}
			src := in.DataUnion(kb)
			total := int64(src.Len())
			in.ReportProgress(0, total)

			b := rdf.NewBuilder()
			var n int64
			for t := range src.Triples() {
				n++
				if n%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					in.ReportProgress(n, total)
				}
				if keep[t.P] != p.Exclude {
					b.Add(t)
				}
			}
			in.ReportProgress(total, total)
			return &processor.Output{Graph: b.Build()}, nil
		}), nil
	})
