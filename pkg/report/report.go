// Package report computes read-only reports over a finished processor's
// data models and meta graph.
package report

import (
	"context"
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/meta"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Kind names a report.
type Kind string

const (
	KindMappingCoverage  Kind = "mapping-coverage"
	KindMappingConflicts Kind = "mapping-conflicts"
	KindCategories       Kind = "categories"
	KindGraph            Kind = "graph"
)

// Target is the processor a report is computed for. *processor.Node
// satisfies it.
type Target interface {
	ID() processor.ID
	DataModels() (map[processor.KnowledgeBaseID][]rdf.Graph, error)
	MetaModel() (*rdf.Union, error)
}

// Options narrow or decorate a report.
type Options struct {
	// Category limits the report to one category; empty means all.
	Category string
	// KnowledgeBases maps plan names to IDs for display.
	KnowledgeBases map[string]processor.KnowledgeBaseID
}

// Result is a computed report. Results encode to JSON.
type Result interface {
	Kind() Kind
}

// Handler computes one kind of report.
type Handler func(ctx context.Context, t Target, opts Options) (Result, error)

type entry struct {
	description string
	handler     Handler
}

var handlers = map[Kind]entry{
	KindMappingCoverage: {
		"per category: confirmed correspondences, uncovered entities per knowledge base and conflicts",
		mappingCoverage,
	},
	KindMappingConflicts: {
		"entity pairs asserted both positive and negative by different processors",
		mappingConflicts,
	},
	KindCategories: {
		"category definitions with entity counts per knowledge base",
		categories,
	},
	KindGraph: {
		"D3 node/link graph of category entities and their correspondences",
		graph,
	},
}

// Kinds lists every report kind in name order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(handlers))
	for k := range handlers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Describe returns a one-line description of the kind.
func (k Kind) Describe() string { return handlers[k].description }

// ParseKind validates a report name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := handlers[k]; !ok {
		return "", fmt.Errorf("unknown report %q: %w", s, apperrors.ErrNotFound)
	}
	return k, nil
}

// Generate computes a report for t. t must have SUCCEEDED; otherwise the
// target's NotReadyError is returned.
func Generate(ctx context.Context, kind Kind, t Target, opts Options) (Result, error) {
	e, ok := handlers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown report %q: %w", kind, apperrors.ErrNotFound)
	}
	return e.handler(ctx, t, opts)
}

// view is the state every report reads.
type view struct {
	data map[processor.KnowledgeBaseID][]rdf.Graph
	meta *rdf.Union
}

func load(t Target) (*view, error) {
	data, err := t.DataModels()
	if err != nil {
		return nil, err
	}
	m, err := t.MetaModel()
	if err != nil {
		return nil, err
	}
	return &view{data: data, meta: m}, nil
}

// categories returns the selected categories.
func (v *view) categories(opts Options) ([]meta.Category, error) {
	if opts.Category == "" {
		return meta.Categories(v.meta), nil
	}
	c, ok := meta.CategoryByName(v.meta, opts.Category)
	if !ok {
		return nil, fmt.Errorf("category %q is not defined: %w", opts.Category, apperrors.ErrNotFound)
	}
	return []meta.Category{c}, nil
}
