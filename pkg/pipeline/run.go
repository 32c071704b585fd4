package pipeline

import (
	"errors"
	"time"

	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// Run is the finished state of one plan execution. Succeeded processors
// keep their results even when another branch failed.
type Run struct {
	plan     *Plan
	started  time.Time
	finished time.Time
}

// Plan returns the executed plan.
func (r *Run) Plan() *Plan { return r.plan }

// Node returns a processor by ID.
func (r *Run) Node(id processor.ID) (*processor.Node, bool) {
	return r.plan.Node(id)
}

// Duration is the wall time of the execution.
func (r *Run) Duration() time.Duration { return r.finished.Sub(r.started) }

// Succeeded lists the processors that reached SUCCEEDED, in dependency order.
func (r *Run) Succeeded() []processor.ID {
	var out []processor.ID
	for _, id := range r.plan.order {
		if r.plan.nodes[id].State() == processor.StateSucceeded {
			out = append(out, id)
		}
	}
	return out
}

// Failures returns the recorded failure of every FAILED processor, in
// dependency order. Processors skipped because of a failed ancestor carry a
// *processor.DependencyFailedError cause.
func (r *Run) Failures() []*processor.ProcessorFailure {
	var out []*processor.ProcessorFailure
	for _, id := range r.plan.order {
		var f *processor.ProcessorFailure
		if errors.As(r.plan.nodes[id].Err(), &f) {
			out = append(out, f)
		}
	}
	return out
}

// RootFailures returns only the failures of processors whose own
// computation failed or that were cancelled.
func (r *Run) RootFailures() []*processor.ProcessorFailure {
	var out []*processor.ProcessorFailure
	for _, f := range r.Failures() {
		var dep *processor.DependencyFailedError
		if !errors.As(f.Cause, &dep) {
			out = append(out, f)
		}
	}
	return out
}

// Err joins the root failures, or returns nil when every processor
// succeeded.
func (r *Run) Err() error {
	roots := r.RootFailures()
	errs := make([]error, len(roots))
	for i, f := range roots {
		errs[i] = f
	}
	return errors.Join(errs...)
}
