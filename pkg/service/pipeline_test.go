package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/kbfuse/internal/manager"
	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/config"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/processors"
	"github.com/duynguyendang/kbfuse/pkg/report"
	"github.com/duynguyendang/kbfuse/pkg/store"
)

const fusionPlan = `
name: fusion
knowledge_bases:
  - name: kb1
  - name: kb2
processors:
  - id: kb1
    type: inline
    knowledge_base: kb1
    params:
      triples: |
        @prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
        <http://kb1.org/jena> rdfs:label "Jena" .
        <http://kb1.org/alpha> rdfs:label "Alpha" .
  - id: kb2
    type: inline
    knowledge_base: kb2
    params:
      triples: |
        @prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
        <http://kb2.org/jena> rdfs:label "Jena" .
        <http://kb2.org/gamma> rdfs:label "Gamma" .
  - id: cats
    type: categories
    depends_on: [kb1, kb2]
    params:
      categories:
        - name: entity
          identity_variable: entity
          pattern: "?entity <rdfs:label> ?label"
  - id: match
    type: labelmatch
    depends_on: [cats]
    params:
      category: entity
`

func parsePlan(t *testing.T, text string) *config.Plan {
	t.Helper()
	p, err := config.ParsePlan([]byte(text))
	require.NoError(t, err)
	return p
}

func openStore(t *testing.T) *store.ResultStore {
	t.Helper()
	cfg := store.DefaultConfig("")
	cfg.InMemory = true
	rs, err := store.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func newService(t *testing.T, reg *processor.Registry, rs *store.ResultStore, maxRuns int) *PipelineService {
	t.Helper()
	if reg == nil {
		reg = processors.NewRegistry()
	}
	s := NewPipelineService(Options{
		Registry: reg,
		Runs:     manager.NewRunManager(maxRuns, rs, nil),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

type blockParams struct {
	Note string `json:"note,omitempty"`
}

// blockingRegistry adds a "block" processor that waits for cancellation.
func blockingRegistry(started chan<- struct{}) *processor.Registry {
	reg := processors.NewRegistry()
	reg.MustRegister(processor.Define("block", processor.KindRefinement, "wait until cancelled",
		func(blockParams) (processor.Computer, error) {
			return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
				started <- struct{}{}
				<-ctx.Done()
				return nil, ctx.Err()
			}), nil
		}))
	return reg
}

const blockingPlan = `
name: stuck
processors:
  - id: wait
    type: block
`

func TestRunPlan_Succeeds(t *testing.T) {
	s := newService(t, nil, nil, 0)
	ctx := context.Background()

	rec, err := s.RunPlan(ctx, parsePlan(t, fusionPlan))
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, rec.Status, rec.Error)
	assert.Equal(t, "fusion", rec.Name)
	require.NotNil(t, rec.Finished)
	assert.False(t, rec.Persisted)
	require.Len(t, rec.Processors, 4)
	for _, p := range rec.Processors {
		assert.Equal(t, processor.StateSucceeded, p.State, p.ID)
		assert.NotNil(t, p.Started)
	}
	assert.Equal(t, processor.KnowledgeBaseIDFromName("kb1"), rec.KnowledgeBases["kb1"])

	res, err := s.Report(ctx, rec.ID, "match", report.KindMappingCoverage, "")
	require.NoError(t, err)
	cov := res.(*report.Coverage)
	c, ok := cov.Category("entity")
	require.True(t, ok)
	assert.Len(t, c.Correspondences, 1)
	assert.Equal(t, 2, c.UncoveredCount())

	_, err = s.Report(ctx, rec.ID, "nope", report.KindMappingCoverage, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.Report(ctx, "missing", "match", report.KindMappingCoverage, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestValidatePlan(t *testing.T) {
	s := newService(t, nil, nil, 0)

	plan, err := s.ValidatePlan(parsePlan(t, fusionPlan))
	require.NoError(t, err)
	assert.Equal(t, []processor.ID{"kb1", "kb2", "cats", "match"}, plan.Order())

	_, err = s.ValidatePlan(nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = s.ValidatePlan(parsePlan(t, `
processors:
  - id: a
    type: union
    depends_on: [b]
  - id: b
    type: union
    depends_on: [a]
`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = s.StartRun(context.Background(), parsePlan(t, `
processors:
  - id: a
    type: teleport
`))
	assert.Error(t, err)
	runs, err := s.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected plans do not create runs")
}

func TestRun_FailureIsReported(t *testing.T) {
	s := newService(t, nil, nil, 0)
	rec, err := s.RunPlan(context.Background(), parsePlan(t, `
knowledge_bases:
  - name: kb1
processors:
  - id: broken
    type: source
    knowledge_base: kb1
    params:
      path: missing.nt
  - id: after
    type: union
    depends_on: [broken]
`))
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)

	after, ok := rec.Processor("after")
	require.True(t, ok)
	assert.Equal(t, processor.StateFailed, after.State)
	assert.Contains(t, after.Error, "broken")

	_, err = s.Report(context.Background(), rec.ID, "after", report.KindCategories, "")
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{}, 1)
	s := newService(t, blockingRegistry(started), nil, 0)
	ctx := context.Background()

	rec, err := s.StartRun(ctx, parsePlan(t, blockingPlan))
	require.NoError(t, err)
	<-started

	got, err := s.GetRun(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, got.Status)
	assert.ErrorIs(t, s.DeleteRun(rec.ID), apperrors.ErrConflict, "active runs cannot be deleted")

	require.NoError(t, s.CancelRun(rec.ID))
	final, err := s.Wait(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCancelled, final.Status)

	assert.ErrorIs(t, s.CancelRun(rec.ID), apperrors.ErrConflict)
	assert.ErrorIs(t, s.CancelRun("missing"), apperrors.ErrNotFound)

	require.NoError(t, s.DeleteRun(rec.ID))
	_, err = s.GetRun(rec.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWait_ContextCancelsRun(t *testing.T) {
	started := make(chan struct{}, 1)
	s := newService(t, blockingRegistry(started), nil, 0)

	rec, err := s.StartRun(context.Background(), parsePlan(t, blockingPlan))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	final, err := s.Wait(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCancelled, final.Status)
}

func TestPersistence(t *testing.T) {
	rs := openStore(t)
	s := newService(t, nil, rs, 1)
	ctx := context.Background()

	first, err := s.RunPlan(ctx, parsePlan(t, fusionPlan))
	require.NoError(t, err)
	assert.True(t, first.Persisted)

	// A second run evicts the first from memory.
	second, err := s.RunPlan(ctx, parsePlan(t, fusionPlan))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := s.GetRun(first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, stored.Status)
	assert.True(t, stored.Persisted)

	res, err := s.Report(ctx, first.ID, "match", report.KindMappingCoverage, "entity")
	require.NoError(t, err)
	c, ok := res.(*report.Coverage).Category("entity")
	require.True(t, ok)
	assert.Len(t, c.Correspondences, 1)

	_, err = s.Report(ctx, first.ID, "ghost", report.KindMappingCoverage, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)

	require.NoError(t, s.DeleteRun(first.ID))
	_, err = s.GetRun(first.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProcessorTypes(t *testing.T) {
	s := newService(t, nil, nil, 0)
	var names []string
	for _, typ := range s.ProcessorTypes() {
		names = append(names, typ.Name)
	}
	assert.Contains(t, names, "labelmatch")
	assert.IsIncreasing(t, names)
}
