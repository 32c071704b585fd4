// Package pipeline builds processor plans and executes them.
//
// A Plan is validated completely before anything runs: duplicate and
// unknown processors, dangling dependencies and cycles are rejected, then
// every node is parameterized. The Scheduler then drives each node through
// its lifecycle, running independent branches concurrently.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// Plan is a validated, parameterized processor graph ready to execute once.
type Plan struct {
	nodes      map[processor.ID]*processor.Node
	order      []processor.ID
	dependents map[processor.ID][]processor.ID
	ancestors  map[processor.ID][]processor.ID
	kbs        map[string]processor.KnowledgeBaseID

	executed atomic.Bool
}

// NewPlan validates the definitions against reg and parameterizes every
// node. knowledgeBases maps plan-level names to IDs and is handed to
// processors that resolve knowledge bases by name.
//
// Structural problems are reported before any node leaves CREATED: a
// dependency cycle yields *CyclicDependencyError with every node still
// CREATED. Parameter problems are joined into one error.
func NewPlan(defs []processor.Definition, reg *processor.Registry, knowledgeBases map[string]processor.KnowledgeBaseID) (*Plan, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("plan has no processors: %w", apperrors.ErrInvalidInput)
	}

	p := &Plan{
		nodes:      make(map[processor.ID]*processor.Node, len(defs)),
		dependents: make(map[processor.ID][]processor.ID),
		ancestors:  make(map[processor.ID][]processor.ID),
		kbs:        make(map[string]processor.KnowledgeBaseID, len(knowledgeBases)),
	}
	for name, id := range knowledgeBases {
		p.kbs[name] = id
	}

	deps := make(map[processor.ID][]processor.ID, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("processor without id: %w", apperrors.ErrInvalidInput)
		}
		if _, dup := p.nodes[def.ID]; dup {
			return nil, fmt.Errorf("duplicate processor %q: %w", def.ID, apperrors.ErrInvalidInput)
		}
		typ, ok := reg.Lookup(def.Type)
		if !ok {
			return nil, fmt.Errorf("processor %q: unknown type %q: %w", def.ID, def.Type, apperrors.ErrInvalidInput)
		}
		p.nodes[def.ID] = processor.NewNode(def, typ)
		deps[def.ID] = slices.Compact(slices.Sorted(slices.Values(def.DependsOn)))
	}

	for id, ds := range deps {
		for _, dep := range ds {
			if _, ok := p.nodes[dep]; !ok {
				return nil, fmt.Errorf("processor %q depends on unknown processor %q: %w", id, dep, apperrors.ErrNotFound)
			}
			p.dependents[dep] = append(p.dependents[dep], id)
		}
	}
	for _, ds := range p.dependents {
		slices.Sort(ds)
	}

	if cycle := findCycle(deps); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	for _, id := range sortedIDs(p.nodes) {
		n := p.nodes[id]
		if n.Kind() == processor.KindSource && n.Definition().KnowledgeBase == "" {
			return nil, fmt.Errorf("source processor %q has no knowledge base: %w", id, apperrors.ErrInvalidInput)
		}
	}

	var errs []error
	for _, id := range sortedIDs(p.nodes) {
		if err := p.nodes[id].Parameterize(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p.order = topoOrder(deps)
	for _, id := range p.order {
		p.ancestors[id] = collectAncestors(id, deps)
	}
	return p, nil
}

// Node returns a processor by ID.
func (p *Plan) Node(id processor.ID) (*processor.Node, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Nodes returns every processor in dependency order.
func (p *Plan) Nodes() []*processor.Node {
	out := make([]*processor.Node, len(p.order))
	for i, id := range p.order {
		out[i] = p.nodes[id]
	}
	return out
}

// Order returns the processor IDs in dependency order.
func (p *Plan) Order() []processor.ID { return slices.Clone(p.order) }

// Ancestors returns every transitive dependency of id in dependency order.
func (p *Plan) Ancestors(id processor.ID) []processor.ID {
	return slices.Clone(p.ancestors[id])
}

// Dependents returns the direct dependents of id.
func (p *Plan) Dependents(id processor.ID) []processor.ID {
	return slices.Clone(p.dependents[id])
}

// KnowledgeBases returns the name to ID table.
func (p *Plan) KnowledgeBases() map[string]processor.KnowledgeBaseID {
	out := make(map[string]processor.KnowledgeBaseID, len(p.kbs))
	for k, v := range p.kbs {
		out[k] = v
	}
	return out
}

func sortedIDs[V any](m map[processor.ID]V) []processor.ID {
	ids := make([]processor.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// topoOrder is Kahn's algorithm with ties broken by ID.
func topoOrder(deps map[processor.ID][]processor.ID) []processor.ID {
	indegree := make(map[processor.ID]int, len(deps))
	dependents := make(map[processor.ID][]processor.ID)
	for id, ds := range deps {
		indegree[id] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], id)
		}
	}

	var queue []processor.ID
	for _, id := range sortedIDs(deps) {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]processor.ID, 0, len(deps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		next := slices.Clone(dependents[id])
		slices.Sort(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return order
}

func collectAncestors(id processor.ID, deps map[processor.ID][]processor.ID) []processor.ID {
	seen := make(map[processor.ID]bool)
	var out []processor.ID
	var walk func(processor.ID)
	walk = func(cur processor.ID) {
		for _, d := range deps[cur] {
			if seen[d] {
				continue
			}
			seen[d] = true
			walk(d)
			out = append(out, d)
		}
	}
	walk(id)
	return out
}
