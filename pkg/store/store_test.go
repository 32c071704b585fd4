package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

var kb1 = processor.KnowledgeBaseIDFromName("kb1")

func openTestStore(t *testing.T) *ResultStore {
	t.Helper()
	cfg := DefaultConfig("")
	cfg.InMemory = true
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig(t.TempDir()).Validate())

	cfg := DefaultConfig("")
	assert.Error(t, cfg.Validate(), "disk mode needs a directory")

	cfg = DefaultConfig("x")
	cfg.BlockCacheSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("x")
	cfg.Profile = "Turbo"
	assert.Error(t, cfg.Validate())
}

func TestRunRecords(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	older := &RunRecord{ID: "r1", Status: RunSucceeded, Created: now.Add(-time.Minute)}
	newer := &RunRecord{
		ID:             "r2",
		Name:           "fusion",
		Status:         RunFailed,
		Created:        now,
		KnowledgeBases: map[string]processor.KnowledgeBaseID{"kb1": kb1},
		Processors: []ProcessorRecord{{
			ID:       "load",
			Type:     "source",
			State:    processor.StateFailed,
			Progress: processor.Progress{Current: 3, Total: -1},
			Error:    "boom",
		}},
	}
	require.NoError(t, s.SaveRun(older))
	require.NoError(t, s.SaveRun(newer))

	got, err := s.GetRun("r2")
	require.NoError(t, err)
	assert.Equal(t, newer, got)
	p, ok := got.Processor("load")
	require.True(t, ok)
	assert.Equal(t, processor.StateFailed, p.State)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	_, err = s.GetRun("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.SaveRun(&RunRecord{}), apperrors.ErrInvalidInput)
}

// finished is a succeeded processor result built by hand.
type finished struct {
	state processor.State
	data  map[processor.KnowledgeBaseID][]rdf.Graph
	meta  *rdf.Union
}

func (finished) ID() processor.ID { return "match" }

func (f finished) State() processor.State { return f.state }

func (f finished) MetaModel() (*rdf.Union, error) { return f.meta, nil }

func (f finished) DataModels() (map[processor.KnowledgeBaseID][]rdf.Graph, error) {
	return f.data, nil
}

func TestResults_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	label := rdf.IRI(rdf.RDFSLabel)
	a := rdf.NewGraph(rdf.NewTriple(rdf.IRI("http://ex.org/a"), label, rdf.LangLiteral("Jena", "de")))
	b := rdf.NewGraph(rdf.NewTriple(rdf.IRI("http://ex.org/b"), label, rdf.TypedLiteral("42", rdf.XSDInteger)))
	m := rdf.NewGraph(rdf.NewTriple(rdf.IRI("urn:m"), rdf.IRI(rdf.RDFType), rdf.IRI("urn:Mapping")))
	res := finished{
		state: processor.StateSucceeded,
		data:  map[processor.KnowledgeBaseID][]rdf.Graph{kb1: {a, b}},
		meta:  rdf.NewUnion(m, rdf.Empty()),
	}

	require.NoError(t, s.SaveRun(&RunRecord{ID: "r1", Status: RunSucceeded, Created: time.Now()}))
	require.NoError(t, s.SaveResult("r1", res))

	back, err := s.LoadResult("r1", "match")
	require.NoError(t, err)
	assert.Equal(t, processor.ID("match"), back.ID())

	data, err := back.DataModels()
	require.NoError(t, err)
	require.Len(t, data[kb1], 1, "graphs of one knowledge base are flattened")
	assert.True(t, rdf.Equal(rdf.NewUnion(a, b), data[kb1][0]))

	meta, err := back.MetaModel()
	require.NoError(t, err)
	assert.True(t, rdf.Equal(m, meta))

	_, err = s.LoadResult("r1", "other")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.DeleteRun("r1"))
	_, err = s.LoadResult("r1", "match")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.GetRun("r1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResults_KeepsBlankNodesApart(t *testing.T) {
	s := openTestStore(t)

	decode := func(doc string) rdf.Graph {
		g, err := rdf.Decode(strings.NewReader(doc), rdf.FormatNTriples)
		require.NoError(t, err)
		return g
	}
	alice := decode(`_:b1 <http://www.w3.org/2000/01/rdf-schema#label> "Alice" .` + "\n")
	bob := decode(`_:b1 <http://www.w3.org/2000/01/rdf-schema#label> "Bob" .` + "\n")
	res := finished{
		state: processor.StateSucceeded,
		data:  map[processor.KnowledgeBaseID][]rdf.Graph{kb1: {alice, bob}},
		meta:  rdf.NewUnion(rdf.Empty()),
	}
	require.NoError(t, s.SaveResult("r1", res))

	back, err := s.LoadResult("r1", "match")
	require.NoError(t, err)
	data, err := back.DataModels()
	require.NoError(t, err)
	require.Len(t, data[kb1], 1)

	labels := make(map[rdf.Term][]string)
	for tr := range data[kb1][0].Triples() {
		require.True(t, tr.S.IsBlank())
		labels[tr.S] = append(labels[tr.S], tr.O.Value)
	}
	assert.Len(t, labels, 2)
	for _, ls := range labels {
		assert.Len(t, ls, 1)
	}
}

func TestResults_RequiresSuccess(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveResult("r1", finished{state: processor.StateRunning})
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
}

func TestDecodeGraph_Corrupt(t *testing.T) {
	_, err := decodeGraph([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}
