// Package service runs pipeline plans and answers questions about them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duynguyendang/kbfuse/internal/manager"
	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/config"
	"github.com/duynguyendang/kbfuse/pkg/pipeline"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/report"
	"github.com/duynguyendang/kbfuse/pkg/store"
)

// Options configures a PipelineService.
type Options struct {
	Registry    *processor.Registry
	Opener      processor.SourceOpener
	Metrics     *pipeline.Metrics
	MaxParallel int
	Logger      *slog.Logger
	// Runs holds the in-memory runs. When nil a manager without a store is
	// created.
	Runs *manager.RunManager
}

// PipelineService executes plans asynchronously and keeps their results.
type PipelineService struct {
	reg         *processor.Registry
	opener      processor.SourceOpener
	metrics     *pipeline.Metrics
	maxParallel int
	logger      *slog.Logger
	runs        *manager.RunManager

	wg sync.WaitGroup
}

// NewPipelineService creates a PipelineService.
func NewPipelineService(opts Options) *PipelineService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = processor.NewRegistry()
	}
	if opts.Runs == nil {
		opts.Runs = manager.NewRunManager(manager.DefaultMaxRuns, nil, opts.Logger)
	}
	return &PipelineService{
		reg:         opts.Registry,
		opener:      opts.Opener,
		metrics:     opts.Metrics,
		maxParallel: opts.MaxParallel,
		logger:      opts.Logger,
		runs:        opts.Runs,
	}
}

// ProcessorTypes lists the registered processor types.
func (s *PipelineService) ProcessorTypes() []processor.Type {
	return s.reg.Types()
}

// ValidatePlan resolves and parameterizes a plan without running it.
func (s *PipelineService) ValidatePlan(p *config.Plan) (*pipeline.Plan, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: plan is required", apperrors.ErrInvalidInput)
	}
	defs, kbs, err := p.Resolve()
	if err != nil {
		return nil, err
	}
	return pipeline.NewPlan(defs, s.reg, kbs)
}

// StartRun validates the plan and executes it in the background. The run
// is detached from ctx; use CancelRun to stop it.
func (s *PipelineService) StartRun(ctx context.Context, p *config.Plan) (*store.RunRecord, error) {
	plan, err := s.ValidatePlan(p)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := manager.NewRun(uuid.NewString(), p.Name, plan, cancel)
	if err := s.runs.Add(run); err != nil {
		cancel()
		return nil, err
	}

	log := s.logger.With("run", run.ID)
	log.Info("run started", "name", run.Name, "processors", len(plan.Order()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		sched := pipeline.NewScheduler(pipeline.Options{
			Logger:      log,
			Metrics:     s.metrics,
			Opener:      s.opener,
			MaxParallel: s.maxParallel,
		})
		res, err := sched.Execute(runCtx, plan)
		if err != nil {
			log.Error("run could not execute", "error", err)
		}
		if s.runs.Store() != nil {
			s.persist(run, res, err)
			s.runs.InvalidateList()
		}
		run.Finish(res, err)
	}()

	return snapshot(run), nil
}

// RunPlan executes a plan and waits for it to finish.
func (s *PipelineService) RunPlan(ctx context.Context, p *config.Plan) (*store.RunRecord, error) {
	rec, err := s.StartRun(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, rec.ID)
}

// Wait blocks until the run finishes and returns its record. Cancelling
// ctx cancels the run.
func (s *PipelineService) Wait(ctx context.Context, runID string) (*store.RunRecord, error) {
	run, err := s.runs.Get(runID)
	if err != nil {
		return nil, err
	}
	if _, err := run.Wait(ctx); err != nil && ctx.Err() != nil {
		run.Cancel()
		<-run.Done()
	}
	return snapshot(run), nil
}

// persist stores every succeeded processor and then the run record.
func (s *PipelineService) persist(run *manager.Run, res *pipeline.Run, execErr error) {
	rs := s.runs.Store()
	log := s.logger.With("run", run.ID)
	if res != nil {
		for _, id := range res.Succeeded() {
			n, _ := res.Node(id)
			if err := rs.SaveResult(run.ID, n); err != nil {
				log.Error("failed to store processor result", "processor", id, "error", err)
				return
			}
		}
	}
	rec := record(run, res, execErr, time.Now())
	rec.Persisted = true
	if err := rs.SaveRun(rec); err != nil {
		log.Error("failed to store run", "error", err)
		return
	}
	run.MarkPersisted()
	log.Debug("run stored", "processors", len(rec.Processors))
}

// GetRun returns a run's record, from memory or else from the store.
func (s *PipelineService) GetRun(runID string) (*store.RunRecord, error) {
	if run, err := s.runs.Get(runID); err == nil {
		return snapshot(run), nil
	}
	if rs := s.runs.Store(); rs != nil {
		return rs.GetRun(runID)
	}
	return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
}

// ListRuns returns every known run, newest first. In-memory records take
// precedence over stored ones.
func (s *PipelineService) ListRuns() ([]store.RunRecord, error) {
	stored, err := s.runs.ListRecords()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := make([]store.RunRecord, 0, len(stored))
	for _, run := range s.runs.Runs() {
		seen[run.ID] = true
		out = append(out, *snapshot(run))
	}
	for _, rec := range stored {
		if !seen[rec.ID] {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b store.RunRecord) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// CancelRun interrupts an executing run.
func (s *PipelineService) CancelRun(runID string) error {
	run, err := s.runs.Get(runID)
	if err != nil {
		return err
	}
	if run.Finished() {
		return fmt.Errorf("run %s already finished: %w", runID, apperrors.ErrConflict)
	}
	run.Cancel()
	s.logger.Info("run cancelled", "run", runID)
	return nil
}

// DeleteRun forgets a finished run, including its stored results.
func (s *PipelineService) DeleteRun(runID string) error {
	return s.runs.Remove(runID)
}

// Report computes a report for one processor of a run. Runs no longer in
// memory are read from the store.
func (s *PipelineService) Report(ctx context.Context, runID string, id processor.ID, kind report.Kind, category string) (report.Result, error) {
	if run, err := s.runs.Get(runID); err == nil {
		n, ok := run.Plan.Node(id)
		if !ok {
			return nil, fmt.Errorf("processor %q in run %s: %w", id, runID, apperrors.ErrNotFound)
		}
		return report.Generate(ctx, kind, n, report.Options{
			Category:       category,
			KnowledgeBases: run.Plan.KnowledgeBases(),
		})
	}

	rs := s.runs.Store()
	if rs == nil {
		return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
	}
	rec, err := rs.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if _, ok := rec.Processor(id); !ok {
		return nil, fmt.Errorf("processor %q in run %s: %w", id, runID, apperrors.ErrNotFound)
	}
	target, err := rs.LoadResult(runID, id)
	if err != nil {
		return nil, err
	}
	return report.Generate(ctx, kind, target, report.Options{
		Category:       category,
		KnowledgeBases: rec.KnowledgeBases,
	})
}

// Close cancels active runs and waits for their goroutines, bounded by ctx.
func (s *PipelineService) Close(ctx context.Context) error {
	s.runs.CloseAll(ctx)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot builds the current record of an in-memory run.
func snapshot(run *manager.Run) *store.RunRecord {
	if !run.Finished() {
		return record(run, nil, nil, time.Time{})
	}
	res, err := run.Result()
	rec := record(run, res, err, run.FinishedAt())
	rec.Persisted = run.Persisted()
	return rec
}

// record captures a run. A nil res with a zero finished time means the run
// is still executing.
func record(run *manager.Run, res *pipeline.Run, execErr error, finished time.Time) *store.RunRecord {
	plan := run.Plan
	rec := &store.RunRecord{
		ID:             run.ID,
		Name:           run.Name,
		Created:        run.Created,
		KnowledgeBases: plan.KnowledgeBases(),
	}

	started := false
	cancelled := false
	for _, id := range plan.Order() {
		n, _ := plan.Node(id)
		pr := store.ProcessorRecord{
			ID:            id,
			Type:          n.Type().Name,
			KnowledgeBase: n.Definition().KnowledgeBase,
			DependsOn:     n.Dependencies(),
			State:         n.State(),
			Progress:      n.Progress(),
		}
		if err := n.Err(); err != nil {
			pr.Error = err.Error()
			if errors.Is(err, processor.ErrCancelled) {
				cancelled = true
			}
		}
		begin, end := n.Timing()
		if !begin.IsZero() {
			started = true
			pr.Started = &begin
		}
		if !end.IsZero() {
			pr.Finished = &end
		}
		rec.Processors = append(rec.Processors, pr)
	}

	switch {
	case finished.IsZero() && started:
		rec.Status = store.RunRunning
	case finished.IsZero():
		rec.Status = store.RunPending
	default:
		rec.Finished = &finished
		err := execErr
		if err == nil && res != nil {
			err = res.Err()
		}
		switch {
		case err == nil:
			rec.Status = store.RunSucceeded
		case cancelled:
			rec.Status = store.RunCancelled
		default:
			rec.Status = store.RunFailed
		}
		if err != nil {
			rec.Error = err.Error()
		}
	}
	return rec
}
