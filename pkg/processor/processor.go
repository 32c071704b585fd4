package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Definition is one node of a plan as written by the user.
type Definition struct {
	ID            ID
	Type          string
	KnowledgeBase KnowledgeBaseID
	DependsOn     []ID
	Params        map[string]any
}

// SourceOpener hands source processors an opened byte stream for a
// location, along with its serialization. Callers close the reader.
type SourceOpener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, rdf.Format, error)
}

// Input is everything a processor may read while it runs. The scheduler
// builds it from the published results of the processor's dependencies.
type Input struct {
	Processor     ID
	KnowledgeBase KnowledgeBaseID
	// KnowledgeBases maps plan-level names to IDs.
	KnowledgeBases map[string]KnowledgeBaseID
	// Data holds the dependencies' data graphs grouped by knowledge base.
	Data map[KnowledgeBaseID][]rdf.Graph
	// Meta is the frozen union of every ancestor's meta contribution.
	Meta   *rdf.Union
	Opener SourceOpener
	Logger *slog.Logger

	progress func(Progress)
}

// ReportProgress publishes progress for the running processor. Use a
// negative total while the total is unknown.
func (in *Input) ReportProgress(current, total int64) {
	if in.progress != nil {
		in.progress(Progress{Current: current, Total: total})
	}
}

// Log returns the input's logger, tagged with the processor ID.
func (in *Input) Log() *slog.Logger {
	l := in.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("processor", in.Processor)
}

// KnowledgeBaseIDs returns the knowledge bases present in Data, sorted.
func (in *Input) KnowledgeBaseIDs() []KnowledgeBaseID {
	ids := make([]KnowledgeBaseID, 0, len(in.Data))
	for id := range in.Data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DataUnion returns a union view over one knowledge base's graphs.
func (in *Input) DataUnion(kb KnowledgeBaseID) *rdf.Union {
	return rdf.NewUnion(slices.Clone(in.Data[kb])...)
}

// AllData returns a union over every input graph.
func (in *Input) AllData() *rdf.Union {
	b := rdf.NewUnionBuilder()
	for _, kb := range in.KnowledgeBaseIDs() {
		for _, g := range in.Data[kb] {
			_ = b.Add(g)
		}
	}
	return b.Freeze()
}

// MetaGraph returns the ancestors' meta union, never nil.
func (in *Input) MetaGraph() *rdf.Union {
	if in.Meta == nil {
		return rdf.NewUnion()
	}
	return in.Meta
}

// Output is what a computation returns. Source and transformation
// processors set Graph. Refinement processors set Data, or leave it nil to
// pass their input data through, and Meta for their own contribution.
type Output struct {
	Graph rdf.Graph
	Data  map[KnowledgeBaseID][]rdf.Graph
	Meta  rdf.Graph
}

// Computer is the body of a processor.
type Computer interface {
	Compute(ctx context.Context, in *Input) (*Output, error)
}

// ComputeFunc adapts a function to Computer.
type ComputeFunc func(ctx context.Context, in *Input) (*Output, error)

// Compute calls f.
func (f ComputeFunc) Compute(ctx context.Context, in *Input) (*Output, error) {
	return f(ctx, in)
}

// Type describes a processor type: its kind and how to bind a raw
// parameter map into a ready Computer.
type Type struct {
	Name        string
	Kind        Kind
	Description string
	bind        func(raw map[string]any) (Computer, error)
}

// Define declares a processor type whose parameters are the struct P.
func Define[P any](name string, kind Kind, description string, build func(P) (Computer, error)) Type {
	return Type{
		Name:        name,
		Kind:        kind,
		Description: description,
		bind: func(raw map[string]any) (Computer, error) {
			params, err := Bind[P](raw)
			if err != nil {
				return nil, err
			}
			return build(params)
		},
	}
}

// Registry maps type names to processor types. Each plan is built against
// an explicit registry.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Register adds a type. Registering a name twice is an error.
func (r *Registry) Register(t Type) error {
	if t.Name == "" || t.bind == nil {
		return fmt.Errorf("processor type %q is incomplete: %w", t.Name, apperrors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.Name]; ok {
		return fmt.Errorf("processor type %q already registered: %w", t.Name, apperrors.ErrConflict)
	}
	r.types[t.Name] = t
	return nil
}

// MustRegister is Register for static setup.
func (r *Registry) MustRegister(types ...Type) {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a type by name.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types lists the registered types sorted by name.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
