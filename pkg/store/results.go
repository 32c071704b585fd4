package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/s2"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Key layout:
//
//	run record:  [0x01 | runID]
//	data graph:  [0x10 | runID | 0x00 | processorID | 0x00 | 'd' | kbID]
//	meta graph:  [0x10 | runID | 0x00 | processorID | 0x00 | 'm']
const (
	runPrefix   byte = 0x01
	graphPrefix byte = 0x10
	sep         byte = 0x00
	dataTag     byte = 'd'
	metaTag     byte = 'm'
)

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Finished reports whether the run reached a final status.
func (s RunStatus) Finished() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// ProcessorRecord is a snapshot of one processor.
type ProcessorRecord struct {
	ID            processor.ID              `json:"id"`
	Type          string                    `json:"type"`
	KnowledgeBase processor.KnowledgeBaseID `json:"knowledge_base,omitempty"`
	DependsOn     []processor.ID            `json:"depends_on,omitempty"`
	State         processor.State           `json:"state"`
	Progress      processor.Progress        `json:"progress"`
	Error         string                    `json:"error,omitempty"`
	Started       *time.Time                `json:"started,omitempty"`
	Finished      *time.Time                `json:"finished,omitempty"`
}

// RunRecord is a snapshot of a run.
type RunRecord struct {
	ID             string                               `json:"id"`
	Name           string                               `json:"name,omitempty"`
	Status         RunStatus                            `json:"status"`
	Created        time.Time                            `json:"created"`
	Finished       *time.Time                           `json:"finished,omitempty"`
	Error          string                               `json:"error,omitempty"`
	KnowledgeBases map[string]processor.KnowledgeBaseID `json:"knowledge_bases"`
	Processors     []ProcessorRecord                    `json:"processors"`
	// Persisted is set once the run's results are stored.
	Persisted bool `json:"persisted,omitempty"`
}

// Processor returns the record of one processor.
func (r *RunRecord) Processor(id processor.ID) (ProcessorRecord, bool) {
	for _, p := range r.Processors {
		if p.ID == id {
			return p, true
		}
	}
	return ProcessorRecord{}, false
}

// Result is a finished processor whose models can be stored.
// *processor.Node satisfies it.
type Result interface {
	ID() processor.ID
	State() processor.State
	DataModels() (map[processor.KnowledgeBaseID][]rdf.Graph, error)
	MetaModel() (*rdf.Union, error)
}

// ResultStore persists run records and the models of succeeded
// processors. Graphs are stored as s2-compressed N-Triples.
type ResultStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens a result store.
func Open(cfg *Config, logger *slog.Logger) (*ResultStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openBadgerDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	return &ResultStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func runKey(runID string) []byte {
	return append([]byte{runPrefix}, runID...)
}

func processorPrefix(runID string, id processor.ID) []byte {
	k := append([]byte{graphPrefix}, runID...)
	k = append(k, sep)
	k = append(k, id...)
	return append(k, sep)
}

func runGraphPrefix(runID string) []byte {
	k := append([]byte{graphPrefix}, runID...)
	return append(k, sep)
}

// SaveRun writes the run record, replacing any previous one.
func (s *ResultStore) SaveRun(rec *RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: run id cannot be empty", apperrors.ErrInvalidInput)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", rec.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(rec.ID), data)
	})
}

// GetRun reads a run record.
func (s *ResultStore) GetRun(runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	return &rec, nil
}

// ListRuns returns every stored run record, newest first.
func (s *ResultStore) ListRuns() ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{runPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	slices.SortFunc(out, func(a, b RunRecord) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// DeleteRun removes a run record and all of its graphs.
func (s *ResultStore) DeleteRun(runID string) error {
	if _, err := s.GetRun(runID); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(runKey(runID))
	}); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return s.db.DropPrefix(runGraphPrefix(runID))
}

// SaveResult stores the data and meta models of a succeeded processor.
// Each knowledge base's graphs are flattened into one graph.
func (s *ResultStore) SaveResult(runID string, r Result) error {
	if st := r.State(); st != processor.StateSucceeded {
		return fmt.Errorf("processor %s is %s: %w", r.ID(), st, apperrors.ErrNotReady)
	}
	data, err := r.DataModels()
	if err != nil {
		return err
	}
	m, err := r.MetaModel()
	if err != nil {
		return err
	}

	prefix := processorPrefix(runID, r.ID())
	put := func(key []byte, g rdf.Graph) error {
		var buf bytes.Buffer
		if err := rdf.Encode(&buf, g); err != nil {
			return err
		}
		compressed := s2.Encode(nil, buf.Bytes())
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, compressed)
		})
	}

	for kb, graphs := range data {
		key := append(slices.Clone(prefix), dataTag)
		key = append(key, kb...)
		if err := put(key, rdf.NewUnion(graphs...)); err != nil {
			return fmt.Errorf("failed to store data of %s/%s: %w", r.ID(), kb, err)
		}
	}
	if err := put(append(slices.Clone(prefix), metaTag), m); err != nil {
		return fmt.Errorf("failed to store meta of %s: %w", r.ID(), err)
	}

	s.logger.Debug("stored processor result", "run", runID, "processor", r.ID(), "knowledge_bases", len(data))
	return nil
}

func decodeGraph(val []byte) (*rdf.Memory, error) {
	raw, err := s2.Decode(nil, val)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress graph: %w", err)
	}
	return rdf.Decode(bytes.NewReader(raw), rdf.FormatNTriples)
}

// StoredResult is a processor result read back from the store. It
// satisfies report.Target.
type StoredResult struct {
	id   processor.ID
	data map[processor.KnowledgeBaseID][]rdf.Graph
	meta *rdf.Union
}

// ID returns the processor ID.
func (r *StoredResult) ID() processor.ID { return r.id }

// DataModels returns the stored data graphs, one per knowledge base.
func (r *StoredResult) DataModels() (map[processor.KnowledgeBaseID][]rdf.Graph, error) {
	return r.data, nil
}

// MetaModel returns the stored meta graph.
func (r *StoredResult) MetaModel() (*rdf.Union, error) { return r.meta, nil }

// LoadResult reads back a stored processor result.
func (s *ResultStore) LoadResult(runID string, id processor.ID) (*StoredResult, error) {
	prefix := processorPrefix(runID, id)
	out := &StoredResult{id: id, data: make(map[processor.KnowledgeBaseID][]rdf.Graph)}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rest := item.Key()[len(prefix):]
			if len(rest) == 0 {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			g, err := decodeGraph(val)
			if err != nil {
				return err
			}
			switch rest[0] {
			case dataTag:
				kb := processor.KnowledgeBaseID(rest[1:])
				out.data[kb] = []rdf.Graph{g}
			case metaTag:
				out.meta = rdf.NewUnion(g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", runID, id, err)
	}
	if out.meta == nil {
		return nil, fmt.Errorf("no stored result for %s in run %s: %w", id, runID, apperrors.ErrNotFound)
	}
	return out, nil
}
