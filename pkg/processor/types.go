// Package processor defines pipeline nodes: their identities, typed
// parameters, lifecycle state machine and results.
//
// A Node moves through
//
//	CREATED -> PARAMETERIZED -> READY -> RUNNING -> SUCCEEDED | FAILED
//
// driven by a scheduler. Results are published once, when the node commits
// SUCCEEDED; reading them earlier fails with *NotReadyError.
package processor

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a processor within a plan.
type ID string

// KnowledgeBaseID is the stable UUID that groups the data graphs of one
// knowledge base.
type KnowledgeBaseID string

// kbNamespace seeds name-derived knowledge base IDs so the same name maps
// to the same ID across runs.
var kbNamespace = uuid.MustParse("3c1f5a7e-9b2d-5e44-8a61-0d2b7c9e4f10")

// NewKnowledgeBaseID returns a random knowledge base ID.
func NewKnowledgeBaseID() KnowledgeBaseID {
	return KnowledgeBaseID(uuid.NewString())
}

// KnowledgeBaseIDFromName derives a deterministic ID from a name.
func KnowledgeBaseIDFromName(name string) KnowledgeBaseID {
	return KnowledgeBaseID(uuid.NewSHA1(kbNamespace, []byte(name)).String())
}

// ParseKnowledgeBaseID checks that s is a UUID and normalizes it.
func ParseKnowledgeBaseID(s string) (KnowledgeBaseID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid knowledge base id %q: %w", s, err)
	}
	return KnowledgeBaseID(u.String()), nil
}

// Kind classifies what a processor produces.
type Kind int

const (
	// KindSource loads one data graph for its own knowledge base.
	KindSource Kind = iota + 1
	// KindTransformation derives one data graph from upstream data.
	KindTransformation
	// KindRefinement produces data per knowledge base plus a meta contribution.
	KindRefinement
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindTransformation:
		return "transformation"
	case KindRefinement:
		return "refinement"
	default:
		return "unknown"
	}
}

// State is a lifecycle state.
type State int

const (
	StateCreated State = iota
	StateParameterized
	StateReady
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateParameterized:
		return "PARAMETERIZED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateCreated; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown processor state %q", text)
}

// Progress is a (current, total) pair. A negative Total means the total is
// not known yet.
type Progress struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

// Indeterminate reports whether the total is unknown.
func (p Progress) Indeterminate() bool { return p.Total < 0 }

// Fraction returns completion in [0,1], or -1 when indeterminate.
func (p Progress) Fraction() float64 {
	if p.Indeterminate() {
		return -1
	}
	if p.Total == 0 {
		return 1
	}
	f := float64(p.Current) / float64(p.Total)
	if f > 1 {
		f = 1
	}
	return f
}
