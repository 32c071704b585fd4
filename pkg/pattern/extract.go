package pattern

import (
	"iter"
	"strings"
	"sync/atomic"

	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Match is one solution of a pattern: the identity binding plus every other
// named variable bound by the same solution.
type Match struct {
	Entity   rdf.Term
	Bindings map[string]rdf.Term
}

// Extract evaluates p against g and yields one Match per distinct solution.
// Blank-node variables are projected away before deduplication.
//
// The sequence is lazy and single use: ranging over it a second time yields
// nothing. Solutions come in no particular order. If identityVariable does
// not occur in p the sequence is empty; use Compile to reject such patterns
// up front.
func Extract(p *Pattern, identityVariable string, g rdf.Graph) iter.Seq[Match] {
	identity := normalizeVar(identityVariable)
	var used atomic.Bool
	return func(yield func(Match) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		if p == nil || g == nil || !p.HasVariable(identity) {
			return
		}
		ev := &evaluator{
			p:        p,
			g:        g,
			identity: identity,
			bound:    make(map[string]rdf.Term, len(p.internal)),
			done:     make([]bool, len(p.triples)),
			seen:     make(map[string]struct{}),
			yield:    yield,
		}
		ev.solve(len(p.triples))
	}
}

// Entities collects the distinct identity bindings of p over g.
func Entities(p *Pattern, identityVariable string, g rdf.Graph) []rdf.Term {
	seen := make(map[rdf.Term]struct{})
	var out []rdf.Term
	for m := range Extract(p, identityVariable, g) {
		if _, ok := seen[m.Entity]; ok {
			continue
		}
		seen[m.Entity] = struct{}{}
		out = append(out, m.Entity)
	}
	return out
}

type evaluator struct {
	p        *Pattern
	g        rdf.Graph
	identity string
	bound    map[string]rdf.Term
	done     []bool
	seen     map[string]struct{}
	yield    func(Match) bool
}

// solve binds the remaining triple patterns depth-first. It returns false
// once the consumer stops.
func (ev *evaluator) solve(remaining int) bool {
	if remaining == 0 {
		return ev.emit()
	}

	i := ev.pick()
	tp := ev.p.triples[i]
	ev.done[i] = true
	defer func() { ev.done[i] = false }()

	s, p, o := ev.resolve(tp.S), ev.resolve(tp.P), ev.resolve(tp.O)
	for t := range rdf.DistinctMatch(ev.g, s, p, o) {
		added, ok := ev.bind(tp, t)
		if ok && !ev.solve(remaining-1) {
			ev.unbind(added)
			return false
		}
		ev.unbind(added)
	}
	return true
}

// pick chooses the pending triple pattern with the most bound positions.
func (ev *evaluator) pick() int {
	best, bestScore := -1, -1
	for i, tp := range ev.p.triples {
		if ev.done[i] {
			continue
		}
		score := 0
		for _, n := range []Node{tp.S, tp.P, tp.O} {
			if !ev.resolve(n).IsZero() {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func (ev *evaluator) resolve(n Node) rdf.Term {
	if !n.IsVar() {
		return n.Term
	}
	return ev.bound[n.Var]
}

// bind records the variables of tp matched by t. A variable repeated within
// one triple pattern must match the same term in every position.
func (ev *evaluator) bind(tp TriplePattern, t rdf.Triple) ([]string, bool) {
	var added []string
	pairs := [3]struct {
		n Node
		v rdf.Term
	}{{tp.S, t.S}, {tp.P, t.P}, {tp.O, t.O}}
	for _, pr := range pairs {
		if !pr.n.IsVar() {
			continue
		}
		if cur, ok := ev.bound[pr.n.Var]; ok {
			if cur != pr.v {
				return added, false
			}
			continue
		}
		ev.bound[pr.n.Var] = pr.v
		added = append(added, pr.n.Var)
	}
	return added, true
}

func (ev *evaluator) unbind(vars []string) {
	for _, v := range vars {
		delete(ev.bound, v)
	}
}

func (ev *evaluator) emit() bool {
	var key strings.Builder
	bindings := make(map[string]rdf.Term, len(ev.p.vars)-1)
	for _, v := range ev.p.vars {
		t := ev.bound[v]
		key.WriteString(t.String())
		key.WriteByte(0)
		if v != ev.identity {
			bindings[v] = t
		}
	}
	k := key.String()
	if _, dup := ev.seen[k]; dup {
		return true
	}
	ev.seen[k] = struct{}{}
	return ev.yield(Match{Entity: ev.bound[ev.identity], Bindings: bindings})
}
