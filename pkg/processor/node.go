package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Listener observes node transitions. Calls for one node are serialized;
// calls for different nodes may interleave.
type Listener interface {
	StateChanged(id ID, from, to State, err error)
	ProgressChanged(id ID, p Progress)
}

// Node is one processor instance in a run. All transitions go through its
// mutex, and results become visible only once SUCCEEDED is committed.
type Node struct {
	def Definition
	typ Type

	mu       sync.Mutex
	state    State
	computer Computer
	input    *Input
	progress Progress
	err      error
	started  time.Time
	finished time.Time

	data         map[KnowledgeBaseID][]rdf.Graph
	contribution rdf.Graph
	meta         *rdf.Union

	listener Listener
}

// NewNode creates a node in CREATED.
func NewNode(def Definition, typ Type) *Node {
	return &Node{
		def:      def,
		typ:      typ,
		state:    StateCreated,
		progress: Progress{Total: -1},
	}
}

// SetListener installs the observer. Call it before any transition.
func (n *Node) SetListener(l Listener) {
	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()
}

func (n *Node) ID() ID { return n.def.ID }

func (n *Node) Definition() Definition { return n.def }

func (n *Node) Type() Type { return n.typ }

func (n *Node) Kind() Kind { return n.typ.Kind }

// Dependencies returns the declared upstream processors.
func (n *Node) Dependencies() []ID { return slices.Clone(n.def.DependsOn) }

// State returns the current state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Progress returns the last reported progress.
func (n *Node) Progress() Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

// Err returns the failure cause of a FAILED node.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Timing returns when the node started and finished running. Zero values
// mean the event has not happened.
func (n *Node) Timing() (started, finished time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started, n.finished
}

// transition must be called with n.mu held.
func (n *Node) transition(to State, err error) {
	from := n.state
	n.state = to
	if n.listener != nil {
		n.listener.StateChanged(n.def.ID, from, to, err)
	}
}

// Parameterize binds the definition's parameters: CREATED -> PARAMETERIZED.
func (n *Node) Parameterize() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateCreated {
		return &InvalidTransitionError{Processor: n.def.ID, From: n.state, To: StateParameterized}
	}

	c, err := n.typ.bind(n.def.Params)
	if err != nil {
		var perr *ParameterError
		if !errors.As(err, &perr) {
			perr = &ParameterError{Reason: err.Error(), Cause: err}
		}
		perr.Processor = n.def.ID
		perr.Type = n.typ.Name
		return perr
	}
	n.computer = c
	n.transition(StateParameterized, nil)
	return nil
}

// Ready attaches the assembled input: PARAMETERIZED -> READY. The scheduler
// calls it once every dependency has SUCCEEDED.
func (n *Node) Ready(in *Input) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateParameterized {
		return &InvalidTransitionError{Processor: n.def.ID, From: n.state, To: StateReady}
	}
	in.Processor = n.def.ID
	if in.KnowledgeBase == "" {
		in.KnowledgeBase = n.def.KnowledgeBase
	}
	in.progress = n.reportProgress
	n.input = in
	n.transition(StateReady, nil)
	return nil
}

// Execute runs the computation: READY -> RUNNING -> SUCCEEDED | FAILED. The
// returned error is the recorded *ProcessorFailure, or a transition error if
// the node was not READY.
func (n *Node) Execute(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateReady {
		defer n.mu.Unlock()
		return &InvalidTransitionError{Processor: n.def.ID, From: n.state, To: StateRunning}
	}
	in := n.input
	n.started = time.Now()
	n.transition(StateRunning, nil)
	n.mu.Unlock()

	out, err := n.run(ctx, in)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if err == nil {
		err = n.commit(in, out)
		if err == nil {
			return nil
		}
	}

	if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	failure := &ProcessorFailure{Processor: n.def.ID, Cause: err}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = time.Now()
	n.err = failure
	n.input = nil
	n.transition(StateFailed, failure)
	return failure
}

func (n *Node) run(ctx context.Context, in *Input) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.computer.Compute(ctx, in)
}

// commit shapes the output into published results and moves to SUCCEEDED.
func (n *Node) commit(in *Input, out *Output) error {
	if out == nil {
		out = &Output{}
	}

	var data map[KnowledgeBaseID][]rdf.Graph
	switch n.typ.Kind {
	case KindSource:
		if out.Graph == nil {
			return errors.New("source produced no graph")
		}
		if in.KnowledgeBase == "" {
			return errors.New("source has no knowledge base")
		}
		data = map[KnowledgeBaseID][]rdf.Graph{in.KnowledgeBase: {out.Graph}}

	case KindTransformation:
		if out.Graph == nil {
			return errors.New("transformation produced no graph")
		}
		kb := in.KnowledgeBase
		if kb == "" {
			ids := in.KnowledgeBaseIDs()
			if len(ids) != 1 {
				return fmt.Errorf("transformation input spans %d knowledge bases; declare one", len(ids))
			}
			kb = ids[0]
		}
		data = map[KnowledgeBaseID][]rdf.Graph{kb: {out.Graph}}

	case KindRefinement:
		src := out.Data
		if src == nil {
			src = in.Data
		}
		data = make(map[KnowledgeBaseID][]rdf.Graph, len(src))
		for kb, graphs := range src {
			data[kb] = slices.Clone(graphs)
		}

	default:
		return fmt.Errorf("unknown processor kind %v", n.typ.Kind)
	}

	contribution := out.Meta
	if contribution == nil {
		contribution = rdf.Empty()
	}
	members := append(in.MetaGraph().Members(), contribution)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.data = data
	n.contribution = contribution
	n.meta = rdf.NewUnion(members...)
	n.finished = time.Now()
	n.input = nil
	if !n.progress.Indeterminate() && n.progress.Current < n.progress.Total {
		n.progress.Current = n.progress.Total
	}
	n.transition(StateSucceeded, nil)
	return nil
}

// Fail moves a node that has not started running straight to FAILED. The
// scheduler uses it for dependency failures and cancellation.
func (n *Node) Fail(cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateRunning || n.state.Terminal() {
		return &InvalidTransitionError{Processor: n.def.ID, From: n.state, To: StateFailed}
	}
	failure := &ProcessorFailure{Processor: n.def.ID, Cause: cause}
	n.err = failure
	n.input = nil
	n.finished = time.Now()
	n.transition(StateFailed, failure)
	return nil
}

// reportProgress keeps progress monotonic: a lower current is ignored and
// a known total is never replaced by an unknown one.
func (n *Node) reportProgress(p Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateRunning {
		return
	}
	prev := n.progress
	if p.Current < prev.Current {
		return
	}
	if p.Total < 0 && prev.Total >= 0 {
		p.Total = prev.Total
	}
	if p == prev {
		return
	}
	n.progress = p
	if n.listener != nil {
		n.listener.ProgressChanged(n.def.ID, p)
	}
}

func (n *Node) notReady() error {
	return &NotReadyError{Processor: n.def.ID, State: n.state}
}

// DataModels returns the data graphs per knowledge base.
func (n *Node) DataModels() (map[KnowledgeBaseID][]rdf.Graph, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateSucceeded {
		return nil, n.notReady()
	}
	out := make(map[KnowledgeBaseID][]rdf.Graph, len(n.data))
	for kb, graphs := range n.data {
		out[kb] = slices.Clone(graphs)
	}
	return out, nil
}

// MetaModel returns the union of every ancestor's meta contribution and
// this node's own.
func (n *Node) MetaModel() (*rdf.Union, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateSucceeded {
		return nil, n.notReady()
	}
	return n.meta, nil
}

// Contribution returns only the meta statements this node added.
func (n *Node) Contribution() (rdf.Graph, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateSucceeded {
		return nil, n.notReady()
	}
	return n.contribution, nil
}
