package meta

import (
	"fmt"
	"strconv"
	"sync"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/pattern"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

type orderedPair struct {
	category       string
	source, target EntityRef
}

// Contribution collects the meta statements of one processor. It is safe
// for concurrent use.
type Contribution struct {
	processor processor.ID

	mu       sync.Mutex
	b        *rdf.Builder
	asserted map[orderedPair]Polarity
	mappings int
}

// NewContribution starts the contribution of processor p.
func NewContribution(p processor.ID) *Contribution {
	return &Contribution{
		processor: p,
		b:         rdf.NewBuilder(),
		asserted:  make(map[orderedPair]Polarity),
	}
}

// Processor returns the owning processor.
func (c *Contribution) Processor() processor.ID { return c.processor }

// AddCategory records a category pattern. The pattern is validated against
// its identity variable first.
func (c *Contribution) AddCategory(name string, cp CategoryPattern) error {
	if name == "" {
		return fmt.Errorf("category without name: %w", apperrors.ErrInvalidInput)
	}
	if err := pattern.Validate(cp.IdentityVariable, cp.Pattern); err != nil {
		return fmt.Errorf("category %q: %w", name, err)
	}
	cp.DefinedBy = c.processor

	cat := CategoryIRI(name)
	node := nameBasedIRI(patternPrefix, name, string(cp.KnowledgeBase), cp.IdentityVariable, cp.Pattern, string(c.processor))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.b.Add(rdf.NewTriple(cat, PredType, ClassCategory))
	c.b.Add(rdf.NewTriple(cat, PredName, rdf.Literal(name)))
	c.b.Add(rdf.NewTriple(cat, PredPattern, node))
	c.b.Add(rdf.NewTriple(node, PredType, ClassCategoryPattern))
	if cp.KnowledgeBase != "" {
		c.b.Add(rdf.NewTriple(node, PredKnowledgeBase, KnowledgeBaseIRI(cp.KnowledgeBase)))
	}
	c.b.Add(rdf.NewTriple(node, PredIdentityVariable, rdf.Literal(cp.IdentityVariable)))
	c.b.Add(rdf.NewTriple(node, PredPatternText, rdf.Literal(cp.Pattern)))
	c.b.Add(rdf.NewTriple(node, PredAttributedTo, ProcessorIRI(c.processor)))
	return nil
}

// AddMapping records a mapping attributed to the owning processor,
// whatever AssertedBy says. Re-asserting the same polarity is a no-op;
// asserting the opposite one fails with ErrConflictingPolarity.
func (c *Contribution) AddMapping(m Mapping) error {
	m.AssertedBy = c.processor
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}

	key := orderedPair{category: m.Category, source: m.Source, target: m.Target}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.asserted[key]; ok {
		if prev != m.Polarity {
			return fmt.Errorf("%w: %s -> %s in %q already %s", ErrConflictingPolarity, m.Source.IRI, m.Target.IRI, m.Category, prev)
		}
		return nil
	}
	c.asserted[key] = m.Polarity
	c.mappings++

	node := mappingIRI(m)
	c.b.Add(rdf.NewTriple(node, PredType, ClassMapping))
	c.b.Add(rdf.NewTriple(node, PredCategory, CategoryIRI(m.Category)))
	c.b.Add(rdf.NewTriple(node, PredSource, rdf.IRI(m.Source.IRI)))
	c.b.Add(rdf.NewTriple(node, PredSourceKB, KnowledgeBaseIRI(m.Source.KnowledgeBase)))
	c.b.Add(rdf.NewTriple(node, PredTarget, rdf.IRI(m.Target.IRI)))
	c.b.Add(rdf.NewTriple(node, PredTargetKB, KnowledgeBaseIRI(m.Target.KnowledgeBase)))
	c.b.Add(rdf.NewTriple(node, PredPolarity, rdf.Literal(m.Polarity.String())))
	if m.Confidence > 0 {
		c.b.Add(rdf.NewTriple(node, PredConfidence,
			rdf.TypedLiteral(strconv.FormatFloat(m.Confidence, 'f', -1, 64), rdf.XSDDecimal)))
	}
	c.b.Add(rdf.NewTriple(node, PredAttributedTo, ProcessorIRI(c.processor)))
	return nil
}

// Annotate adds an arbitrary statement.
func (c *Contribution) Annotate(t rdf.Triple) error {
	if !t.IsValid() {
		return fmt.Errorf("invalid annotation %s: %w", t, apperrors.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b.Add(t)
	return nil
}

// Mappings returns how many distinct mappings were recorded.
func (c *Contribution) Mappings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mappings
}

// Graph freezes the contribution. Later calls to Add methods have no
// effect on the returned graph.
func (c *Contribution) Graph() *rdf.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.Build()
}

// mappingIRI identifies one processor's statement about one ordered pair.
func mappingIRI(m Mapping) rdf.Term {
	return nameBasedIRI(mappingPrefix,
		m.Category,
		string(m.Source.KnowledgeBase), m.Source.IRI,
		string(m.Target.KnowledgeBase), m.Target.IRI,
		string(m.AssertedBy))
}
