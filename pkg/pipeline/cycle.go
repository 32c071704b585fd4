package pipeline

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// CyclicDependencyError reports a dependency cycle found while building a
// plan. Cycle lists the processors along the cycle, starting and ending
// with the same ID.
type CyclicDependencyError struct {
	Cycle []processor.ID
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(parts, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error { return apperrors.ErrInvalidInput }

// findCycle runs a three-color DFS over the depends-on edges and returns
// the first cycle found, or nil. Nodes are visited in sorted order so the
// reported cycle is stable.
func findCycle(deps map[processor.ID][]processor.ID) []processor.ID {
	const (
		white = iota // unvisited
		gray         // on the DFS stack
		black        // finished
	)

	color := make(map[processor.ID]int, len(deps))
	var stack []processor.ID
	var cycle []processor.ID

	var visit func(id processor.ID) bool
	visit = func(id processor.ID) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Back edge: the cycle is the stack suffix starting at dep.
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]processor.ID, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}
