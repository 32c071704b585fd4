package meta

import (
	"slices"

	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// PairStatus is the combined verdict on an entity pair.
type PairStatus int

const (
	// StatusPositive: at least one positive and no negative assertion.
	StatusPositive PairStatus = iota + 1
	// StatusNegative: only negative assertions.
	StatusNegative
	// StatusConflicting: both polarities were asserted.
	StatusConflicting
)

func (s PairStatus) String() string {
	switch s {
	case StatusPositive:
		return "positive"
	case StatusNegative:
		return "negative"
	case StatusConflicting:
		return "conflicting"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name.
func (s PairStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PairAssessment groups every assertion about one unordered pair. Nothing
// is discarded: a conflict keeps both sides' asserters.
type PairAssessment struct {
	Pair
	Positive []processor.ID `json:"positive,omitempty"`
	Negative []processor.ID `json:"negative,omitempty"`
	Status   PairStatus     `json:"status"`
}

// Assess folds mappings into one assessment per unordered pair, sorted.
// Assertions (A,B) and (B,A) count toward the same pair.
func Assess(mappings []Mapping) []PairAssessment {
	byPair := make(map[Pair]*PairAssessment)
	for _, m := range mappings {
		p := m.Pair()
		a := byPair[p]
		if a == nil {
			a = &PairAssessment{Pair: p}
			byPair[p] = a
		}
		switch m.Polarity {
		case Positive:
			if !slices.Contains(a.Positive, m.AssertedBy) {
				a.Positive = append(a.Positive, m.AssertedBy)
			}
		case Negative:
			if !slices.Contains(a.Negative, m.AssertedBy) {
				a.Negative = append(a.Negative, m.AssertedBy)
			}
		}
	}

	out := make([]PairAssessment, 0, len(byPair))
	for _, a := range byPair {
		slices.Sort(a.Positive)
		slices.Sort(a.Negative)
		switch {
		case len(a.Positive) > 0 && len(a.Negative) > 0:
			a.Status = StatusConflicting
		case len(a.Positive) > 0:
			a.Status = StatusPositive
		default:
			a.Status = StatusNegative
		}
		out = append(out, *a)
	}
	slices.SortFunc(out, func(x, y PairAssessment) int { return comparePairs(x.Pair, y.Pair) })
	return out
}

// Conflicts returns only the conflicting pairs.
func Conflicts(mappings []Mapping) []PairAssessment {
	var out []PairAssessment
	for _, a := range Assess(mappings) {
		if a.Status == StatusConflicting {
			out = append(out, a)
		}
	}
	return out
}
