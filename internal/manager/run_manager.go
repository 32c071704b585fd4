package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/pipeline"
	"github.com/duynguyendang/kbfuse/pkg/store"
)

const (
	DefaultMaxRuns = 64
	RunListTTL     = 5 * time.Second
)

// Run is a pipeline run held in memory.
type Run struct {
	ID      string
	Name    string
	Created time.Time
	Plan    *pipeline.Plan

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	result    *pipeline.Run
	err       error
	finished  time.Time
	persisted bool
}

// NewRun creates a run handle. cancel interrupts its execution.
func NewRun(id, name string, plan *pipeline.Plan, cancel context.CancelFunc) *Run {
	if cancel == nil {
		cancel = func() {}
	}
	return &Run{
		ID:      id,
		Name:    name,
		Created: time.Now(),
		Plan:    plan,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Finish records the outcome and releases waiters. Only the first call
// has an effect.
func (r *Run) Finish(result *pipeline.Run, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return
	default:
	}
	r.result, r.err, r.finished = result, err, time.Now()
	close(r.done)
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Finished reports whether the run has finished.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Cancel interrupts the run.
func (r *Run) Cancel() { r.cancel() }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*pipeline.Run, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the finished run, or an error wrapping ErrNotReady while
// it is still executing.
func (r *Run) Result() (*pipeline.Run, error) {
	if !r.Finished() {
		return nil, fmt.Errorf("run %s is still executing: %w", r.ID, apperrors.ErrNotReady)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.err
}

// FinishedAt returns when the run finished, or the zero time.
func (r *Run) FinishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finished
}

// MarkPersisted records that the run's results reached the store.
func (r *Run) MarkPersisted() {
	r.mu.Lock()
	r.persisted = true
	r.mu.Unlock()
}

// Persisted reports whether MarkPersisted was called.
func (r *Run) Persisted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persisted
}

// RunManager keeps the most recently used runs in memory. Evicted runs are
// cancelled if still executing and their results dropped; when a result
// store is configured their records stay readable from it.
type RunManager struct {
	runs   *lru.Cache[string, *Run]
	store  *store.ResultStore
	logger *slog.Logger

	mu            sync.RWMutex
	cachedList    []store.RunRecord
	lastListBuild time.Time
}

// NewRunManager creates a RunManager holding up to maxRuns runs. rs may be
// nil.
func NewRunManager(maxRuns int, rs *store.ResultStore, logger *slog.Logger) *RunManager {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &RunManager{store: rs, logger: logger}
	cache, _ := lru.NewWithEvict[string, *Run](maxRuns, func(id string, r *Run) {
		if !r.Finished() {
			m.logger.Warn("evicting active run", "run", id)
			r.Cancel()
		}
	})
	m.runs = cache
	return m
}

// Store returns the result store, or nil.
func (m *RunManager) Store() *store.ResultStore { return m.store }

// Add registers a run.
func (m *RunManager) Add(r *Run) error {
	if ok, _ := m.runs.ContainsOrAdd(r.ID, r); ok {
		return fmt.Errorf("run %s: %w", r.ID, apperrors.ErrConflict)
	}
	m.InvalidateList()
	return nil
}

// Get returns an in-memory run.
func (m *RunManager) Get(id string) (*Run, error) {
	if r, ok := m.runs.Get(id); ok {
		return r, nil
	}
	return nil, fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
}

// Active returns the runs still executing.
func (m *RunManager) Active() []*Run {
	var out []*Run
	for _, r := range m.runs.Values() {
		if !r.Finished() {
			out = append(out, r)
		}
	}
	return out
}

// Remove drops a run from memory and from the store.
func (m *RunManager) Remove(id string) error {
	r, inMemory := m.runs.Peek(id)
	if inMemory && !r.Finished() {
		return fmt.Errorf("run %s is still executing: %w", id, apperrors.ErrConflict)
	}
	m.runs.Remove(id)
	m.InvalidateList()

	if m.store != nil {
		err := m.store.DeleteRun(id)
		if err == nil || (inMemory && errors.Is(err, apperrors.ErrNotFound)) {
			return nil
		}
		return err
	}
	if !inMemory {
		return fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// ListRecords returns stored run records, newest first. Results are cached
// for RunListTTL.
func (m *RunManager) ListRecords() ([]store.RunRecord, error) {
	if m.store == nil {
		return nil, nil
	}

	m.mu.RLock()
	if time.Since(m.lastListBuild) < RunListTTL && m.cachedList != nil {
		list := slices.Clone(m.cachedList)
		m.mu.RUnlock()
		return list, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastListBuild) < RunListTTL && m.cachedList != nil {
		return slices.Clone(m.cachedList), nil
	}

	list, err := m.store.ListRuns()
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.RunRecord{}
	}
	m.cachedList = list
	m.lastListBuild = time.Now()
	return slices.Clone(list), nil
}

// Runs returns the in-memory runs, newest first.
func (m *RunManager) Runs() []*Run {
	out := m.runs.Values()
	slices.SortFunc(out, func(a, b *Run) int { return b.Created.Compare(a.Created) })
	return out
}

// InvalidateList forces the next ListRecords to read the store.
func (m *RunManager) InvalidateList() {
	m.mu.Lock()
	m.cachedList = nil
	m.mu.Unlock()
}

// CloseAll cancels active runs, waits up to ctx for them to finish and
// empties the cache.
func (m *RunManager) CloseAll(ctx context.Context) {
	active := m.Active()
	for _, r := range active {
		r.Cancel()
	}
	for _, r := range active {
		select {
		case <-r.Done():
		case <-ctx.Done():
			m.logger.Warn("run did not stop in time", "run", r.ID)
		}
	}
	m.runs.Purge()
}
