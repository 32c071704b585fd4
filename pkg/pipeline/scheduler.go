package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// ErrPlanExecuted is returned when a plan is executed a second time.
var ErrPlanExecuted = fmt.Errorf("plan already executed: %w", apperrors.ErrConflict)

// Options configures a Scheduler.
type Options struct {
	Logger *slog.Logger
	// Observer receives every state and progress change. It is called while
	// the node's lock is held and must not call back into the node.
	Observer processor.Listener
	Metrics  *Metrics
	Opener   processor.SourceOpener
	// MaxParallel bounds concurrent computations; zero means no limit.
	MaxParallel int
}

// Scheduler executes plans.
type Scheduler struct {
	opts Options
}

// NewScheduler creates a scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{opts: opts}
}

type outcome struct {
	id  processor.ID
	err error
}

// Execute runs the plan to completion. A processor starts once all of its
// dependencies have SUCCEEDED. When one fails, every transitive dependent
// is failed without running. Cancelling ctx interrupts running processors
// and fails the rest as cancelled.
//
// The returned error is non-nil only when the plan cannot be executed at
// all; processor failures are reported through Run.Err.
func (s *Scheduler) Execute(ctx context.Context, plan *Plan) (*Run, error) {
	if !plan.executed.CompareAndSwap(false, true) {
		return nil, ErrPlanExecuted
	}

	log := s.opts.Logger
	run := &Run{plan: plan, started: time.Now()}
	obs := &observer{s: s, plan: plan, log: log, started: make(map[processor.ID]time.Time)}
	for _, n := range plan.nodes {
		n.SetListener(obs)
	}

	indegree := make(map[processor.ID]int, len(plan.nodes))
	for id, n := range plan.nodes {
		indegree[id] = len(n.Dependencies())
	}

	var g errgroup.Group
	if s.opts.MaxParallel > 0 {
		g.SetLimit(s.opts.MaxParallel)
	}
	done := make(chan outcome, len(plan.nodes))
	inflight := 0

	launch := func(id processor.ID) {
		n := plan.nodes[id]
		in, err := s.assemble(plan, n)
		if err == nil {
			err = n.Ready(in)
		}
		if err != nil {
			// Assembly reads only published results, so this is a bug.
			log.Error("processor not ready", "processor", id, "error", err)
			if ferr := n.Fail(err); ferr != nil {
				log.Error("fail processor", "processor", id, "error", ferr)
			}
			failed := n.Err()
			if failed == nil {
				failed = err
			}
			inflight++
			done <- outcome{id: id, err: failed}
			return
		}
		inflight++
		g.Go(func() error {
			done <- outcome{id: id, err: n.Execute(ctx)}
			return nil
		})
	}

	log.Info("pipeline started", "processors", len(plan.order), "max_parallel", s.opts.MaxParallel)
	for _, id := range plan.order {
		if indegree[id] == 0 && ctx.Err() == nil {
			launch(id)
		}
	}

	for inflight > 0 {
		o := <-done
		inflight--
		if o.err != nil {
			s.failDependents(plan, o.id, o.err)
			continue
		}
		for _, dep := range plan.dependents[o.id] {
			indegree[dep]--
			if indegree[dep] == 0 && plan.nodes[dep].State() == processor.StateParameterized && ctx.Err() == nil {
				launch(dep)
			}
		}
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		cause := fmt.Errorf("%w: %w", processor.ErrCancelled, err)
		for _, id := range plan.order {
			if n := plan.nodes[id]; !n.State().Terminal() {
				_ = n.Fail(cause)
			}
		}
	}

	run.finished = time.Now()
	result := "succeeded"
	if run.Err() != nil {
		result = "failed"
		if ctx.Err() != nil {
			result = "cancelled"
		}
	}
	s.opts.Metrics.run(result)
	log.Info("pipeline finished",
		"outcome", result,
		"succeeded", len(run.Succeeded()),
		"failed", len(run.Failures()),
		"duration", run.finished.Sub(run.started))
	return run, nil
}

// failDependents fails the dependent closure of a failed processor. The
// root cause is the processor whose own computation failed.
func (s *Scheduler) failDependents(plan *Plan, failed processor.ID, err error) {
	root, cause := failed, err
	var failure *processor.ProcessorFailure
	if errors.As(err, &failure) {
		cause = failure.Cause
	}
	var dep *processor.DependencyFailedError
	if errors.As(cause, &dep) {
		root, cause = dep.Dependency, dep.Cause
	}

	queue := plan.Dependents(failed)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := plan.nodes[id]
		if n.State().Terminal() || n.State() == processor.StateRunning {
			continue
		}
		if ferr := n.Fail(&processor.DependencyFailedError{Dependency: root, Cause: cause}); ferr != nil {
			continue
		}
		queue = append(queue, plan.dependents[id]...)
	}
}

// assemble gathers the published results a node may read: its direct
// dependencies' data grouped by knowledge base, and the frozen union of
// every ancestor's meta contribution.
func (s *Scheduler) assemble(plan *Plan, n *processor.Node) (*processor.Input, error) {
	data := make(map[processor.KnowledgeBaseID][]rdf.Graph)
	seen := make(map[processor.KnowledgeBaseID]map[rdf.Graph]bool)
	for _, depID := range n.Dependencies() {
		models, err := plan.nodes[depID].DataModels()
		if err != nil {
			return nil, err
		}
		for kb, graphs := range models {
			if seen[kb] == nil {
				seen[kb] = make(map[rdf.Graph]bool)
			}
			for _, g := range graphs {
				if seen[kb][g] {
					continue
				}
				seen[kb][g] = true
				data[kb] = append(data[kb], g)
			}
		}
	}

	meta := rdf.NewUnionBuilder()
	for _, anc := range plan.ancestors[n.ID()] {
		c, err := plan.nodes[anc].Contribution()
		if err != nil {
			return nil, err
		}
		if err := meta.Add(c); err != nil {
			return nil, err
		}
	}

	return &processor.Input{
		KnowledgeBase:  n.Definition().KnowledgeBase,
		KnowledgeBases: plan.KnowledgeBases(),
		Data:           data,
		Meta:           meta.Freeze(),
		Opener:         s.opts.Opener,
		Logger:         s.opts.Logger,
	}, nil
}

// observer logs transitions, feeds metrics and forwards to the configured
// Observer.
type observer struct {
	s    *Scheduler
	plan *Plan
	log  *slog.Logger

	mu      sync.Mutex
	started map[processor.ID]time.Time
}

func (o *observer) typeOf(id processor.ID) string {
	if n, ok := o.plan.nodes[id]; ok {
		return n.Type().Name
	}
	return ""
}

func (o *observer) StateChanged(id processor.ID, from, to processor.State, err error) {
	typ := o.typeOf(id)
	m := o.s.opts.Metrics
	m.transition(typ, strings.ToLower(to.String()))

	o.mu.Lock()
	switch {
	case to == processor.StateRunning:
		o.started[id] = time.Now()
		m.running(1)
	case from == processor.StateRunning:
		if t, ok := o.started[id]; ok {
			m.observe(typ, strings.ToLower(to.String()), time.Since(t).Seconds())
		}
		m.running(-1)
	}
	o.mu.Unlock()

	switch {
	case to == processor.StateFailed && from == processor.StateRunning:
		o.log.Warn("processor failed", "processor", id, "type", typ, "error", err)
	case to == processor.StateFailed:
		o.log.Debug("processor skipped", "processor", id, "type", typ, "error", err)
	default:
		o.log.Debug("processor state", "processor", id, "type", typ, "from", from, "to", to)
	}

	if o.s.opts.Observer != nil {
		o.s.opts.Observer.StateChanged(id, from, to, err)
	}
}

func (o *observer) ProgressChanged(id processor.ID, p processor.Progress) {
	if o.s.opts.Observer != nil {
		o.s.opts.Observer.ProgressChanged(id, p)
	}
}
