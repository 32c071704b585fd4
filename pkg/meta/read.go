package meta

import (
	"cmp"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

func first(g rdf.Graph, s, p rdf.Term) (rdf.Term, bool) {
	for t := range g.Match(s, p, rdf.Term{}) {
		return t.O, true
	}
	return rdf.Term{}, false
}

// Categories reads every category defined in g, sorted by name. Patterns
// from different processors for the same category are merged.
func Categories(g rdf.Graph) []Category {
	byName := make(map[string]*Category)
	seen := make(map[rdf.Term]bool)

	for t := range rdf.DistinctMatch(g, rdf.Term{}, PredType, ClassCategory) {
		cat := t.S
		nameTerm, ok := first(g, cat, PredName)
		if !ok {
			continue
		}
		name := nameTerm.Value
		c := byName[name]
		if c == nil {
			c = &Category{Name: name}
			byName[name] = c
		}
		for pt := range rdf.DistinctMatch(g, cat, PredPattern, rdf.Term{}) {
			node := pt.O
			if seen[node] {
				continue
			}
			seen[node] = true
			if cp, ok := readPattern(g, node); ok {
				c.Patterns = append(c.Patterns, cp)
			}
		}
	}

	out := make([]Category, 0, len(byName))
	for _, c := range byName {
		slices.SortFunc(c.Patterns, func(a, b CategoryPattern) int {
			if r := cmp.Compare(a.KnowledgeBase, b.KnowledgeBase); r != 0 {
				return r
			}
			if r := cmp.Compare(a.DefinedBy, b.DefinedBy); r != 0 {
				return r
			}
			return cmp.Compare(a.Pattern, b.Pattern)
		})
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Category) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// CategoryByName finds one category in g.
func CategoryByName(g rdf.Graph, name string) (Category, bool) {
	for _, c := range Categories(g) {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

func readPattern(g rdf.Graph, node rdf.Term) (CategoryPattern, bool) {
	idVar, ok1 := first(g, node, PredIdentityVariable)
	text, ok2 := first(g, node, PredPatternText)
	if !ok1 || !ok2 {
		return CategoryPattern{}, false
	}
	cp := CategoryPattern{IdentityVariable: idVar.Value, Pattern: text.Value}
	if kb, ok := first(g, node, PredKnowledgeBase); ok {
		cp.KnowledgeBase, _ = KnowledgeBaseFromIRI(kb)
	}
	if by, ok := first(g, node, PredAttributedTo); ok {
		cp.DefinedBy, _ = ProcessorFromIRI(by)
	}
	return cp, true
}

// Mappings reads every mapping statement in g, sorted. Statements held by
// several union members are returned once.
func Mappings(g rdf.Graph) []Mapping {
	var out []Mapping
	for t := range rdf.DistinctMatch(g, rdf.Term{}, PredType, ClassMapping) {
		if m, ok := readMapping(g, t.S); ok {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, compareMappings)
	return out
}

// MappingsFor returns the mappings of one category.
func MappingsFor(g rdf.Graph, category string) []Mapping {
	var out []Mapping
	for _, m := range Mappings(g) {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

func readMapping(g rdf.Graph, node rdf.Term) (Mapping, bool) {
	var m Mapping
	cat, ok := first(g, node, PredCategory)
	if !ok {
		return m, false
	}
	name, ok := strings.CutPrefix(cat.Value, categoryPrefix)
	if !ok {
		return m, false
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	m.Category = name

	src, ok1 := first(g, node, PredSource)
	tgt, ok2 := first(g, node, PredTarget)
	skb, ok3 := first(g, node, PredSourceKB)
	tkb, ok4 := first(g, node, PredTargetKB)
	pol, ok5 := first(g, node, PredPolarity)
	by, ok6 := first(g, node, PredAttributedTo)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return m, false
	}

	m.Source.IRI, m.Target.IRI = src.Value, tgt.Value
	m.Source.KnowledgeBase, _ = KnowledgeBaseFromIRI(skb)
	m.Target.KnowledgeBase, _ = KnowledgeBaseFromIRI(tkb)

	var err error
	if m.Polarity, err = ParsePolarity(pol.Value); err != nil {
		return m, false
	}
	var isProc bool
	if m.AssertedBy, isProc = ProcessorFromIRI(by); !isProc {
		return m, false
	}
	if c, ok := first(g, node, PredConfidence); ok {
		m.Confidence, _ = strconv.ParseFloat(c.Value, 64)
	}
	return m, true
}

// Asserters lists the processors that contributed mappings to g.
func Asserters(g rdf.Graph) []processor.ID {
	set := make(map[processor.ID]bool)
	for _, m := range Mappings(g) {
		set[m.AssertedBy] = true
	}
	out := make([]processor.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
