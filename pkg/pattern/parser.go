package pattern

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// cacheSize bounds the compiled-pattern cache. Category patterns repeat
// across processors and runs, and parsed patterns are immutable.
const cacheSize = 512

var cache, _ = lru.New[string, *Pattern](cacheSize)

// Parse parses pattern text. Results are cached by text.
func Parse(text string) (*Pattern, error) {
	if p, ok := cache.Get(text); ok {
		return p, nil
	}
	p, err := parse(text)
	if err != nil {
		return nil, err
	}
	cache.Add(text, p)
	return p, nil
}

type parser struct {
	src      string
	toks     []token
	pos      int
	prefixes map[string]string
	seen     map[string]bool
	p        *Pattern
}

func parse(text string) (*Pattern, error) {
	lx := &lexer{src: text}
	toks, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	ps := &parser{
		src:      text,
		toks:     toks,
		prefixes: rdf.Prefixes(),
		seen:     make(map[string]bool),
		p:        &Pattern{text: text},
	}
	if err := ps.parsePattern(); err != nil {
		return nil, err
	}
	if len(ps.p.triples) == 0 {
		return nil, &Error{Kind: ErrUnparseable, Pattern: text, Detail: "pattern contains no triple patterns"}
	}
	return ps.p, nil
}

func (ps *parser) peek() token { return ps.toks[ps.pos] }

func (ps *parser) advance() token {
	t := ps.toks[ps.pos]
	if t.kind != tokEOF {
		ps.pos++
	}
	return t
}

func (ps *parser) errorf(t token, detail string) error {
	return &Error{Kind: ErrUnparseable, Pattern: ps.src, Offset: t.pos, Detail: detail}
}

func (ps *parser) expect(kind tokenKind) (token, error) {
	t := ps.advance()
	if t.kind != kind {
		return t, ps.errorf(t, "expected "+kind.String()+", found "+t.kind.String())
	}
	return t, nil
}

// parsePattern handles prologue declarations and an optionally braced group.
func (ps *parser) parsePattern() error {
	for ps.peek().kind == tokPrefix {
		if err := ps.parsePrefix(); err != nil {
			return err
		}
	}

	braced := false
	if ps.peek().kind == tokLBrace {
		ps.advance()
		braced = true
	}

	for {
		t := ps.peek()
		if t.kind == tokEOF || t.kind == tokRBrace {
			break
		}
		if err := ps.parseTriplesBlock(); err != nil {
			return err
		}
		if ps.peek().kind == tokDot {
			ps.advance()
			continue
		}
		if k := ps.peek().kind; k != tokEOF && k != tokRBrace {
			return ps.errorf(ps.peek(), "expected '.' between triple patterns")
		}
	}

	if braced {
		if _, err := ps.expect(tokRBrace); err != nil {
			return err
		}
	}
	if t := ps.peek(); t.kind != tokEOF {
		return ps.errorf(t, "unexpected trailing "+t.kind.String())
	}
	return nil
}

func (ps *parser) parsePrefix() error {
	kw := ps.advance()
	name, err := ps.expect(tokPName)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(name.text, ":") || strings.Count(name.text, ":") != 1 {
		return ps.errorf(name, "malformed prefix name "+name.text)
	}
	iri, err := ps.expect(tokIRI)
	if err != nil {
		return err
	}
	ps.prefixes[strings.TrimSuffix(name.text, ":")] = iri.text
	// Turtle-style declarations end with a dot.
	if kw.text == "prefix" && ps.peek().kind == tokDot {
		ps.advance()
	}
	return nil
}

// parseTriplesBlock parses "s p o (, o)* (; p o (, o)*)*".
func (ps *parser) parseTriplesBlock() error {
	subj, err := ps.parseNode(true)
	if err != nil {
		return err
	}
	for {
		pred, err := ps.parsePredicate()
		if err != nil {
			return err
		}
		for {
			obj, err := ps.parseNode(false)
			if err != nil {
				return err
			}
			ps.add(TriplePattern{S: subj, P: pred, O: obj})
			if ps.peek().kind != tokComma {
				break
			}
			ps.advance()
		}
		if ps.peek().kind != tokSemicolon {
			return nil
		}
		ps.advance()
		// A dangling ';' before '.' is legal Turtle.
		if k := ps.peek().kind; k == tokDot || k == tokEOF || k == tokRBrace {
			return nil
		}
	}
}

func (ps *parser) add(tp TriplePattern) {
	for _, n := range []Node{tp.S, tp.P, tp.O} {
		if !n.IsVar() || ps.seen[n.Var] {
			continue
		}
		ps.seen[n.Var] = true
		ps.p.internal = append(ps.p.internal, n.Var)
		if !strings.HasPrefix(n.Var, blankPrefix) {
			ps.p.vars = append(ps.p.vars, n.Var)
		}
	}
	ps.p.triples = append(ps.p.triples, tp)
}

func (ps *parser) parsePredicate() (Node, error) {
	t := ps.peek()
	switch t.kind {
	case tokA:
		ps.advance()
		return Node{Term: rdf.IRI(rdf.RDFType)}, nil
	case tokVar:
		ps.advance()
		return Node{Var: t.text}, nil
	case tokIRI, tokPName:
		ps.advance()
		iri, err := ps.resolveIRI(t)
		if err != nil {
			return Node{}, err
		}
		return Node{Term: rdf.IRI(iri)}, nil
	default:
		return Node{}, ps.errorf(t, "expected predicate, found "+t.kind.String())
	}
}

func (ps *parser) parseNode(subject bool) (Node, error) {
	t := ps.advance()
	switch t.kind {
	case tokVar:
		return Node{Var: t.text}, nil
	case tokBlank:
		return Node{Var: blankPrefix + t.text}, nil
	case tokIRI, tokPName:
		iri, err := ps.resolveIRI(t)
		if err != nil {
			return Node{}, err
		}
		return Node{Term: rdf.IRI(iri)}, nil
	}

	if subject {
		return Node{}, ps.errorf(t, "expected subject, found "+t.kind.String())
	}

	switch t.kind {
	case tokString:
		switch ps.peek().kind {
		case tokLang:
			lang := ps.advance()
			return Node{Term: rdf.LangLiteral(t.text, lang.text)}, nil
		case tokCaret:
			ps.advance()
			dt := ps.advance()
			if dt.kind != tokIRI && dt.kind != tokPName {
				return Node{}, ps.errorf(dt, "expected datatype IRI")
			}
			iri, err := ps.resolveIRI(dt)
			if err != nil {
				return Node{}, err
			}
			return Node{Term: rdf.TypedLiteral(t.text, iri)}, nil
		}
		return Node{Term: rdf.Literal(t.text)}, nil
	case tokNumber:
		dt := rdf.XSDInteger
		if strings.Contains(t.text, ".") {
			dt = rdf.XSDDecimal
		}
		return Node{Term: rdf.TypedLiteral(strings.TrimPrefix(t.text, "+"), dt)}, nil
	case tokBool:
		return Node{Term: rdf.TypedLiteral(t.text, rdf.XSDBoolean)}, nil
	}
	return Node{}, ps.errorf(t, "expected object, found "+t.kind.String())
}

// resolveIRI expands prefixed names. An <IRI> whose body is a prefixed name
// with a declared prefix expands as well, so <rdfs:label> and rdfs:label
// denote the same predicate.
func (ps *parser) resolveIRI(t token) (string, error) {
	prefix, local, ok := strings.Cut(t.text, ":")
	if t.kind == tokIRI {
		if ok && !strings.HasPrefix(local, "//") {
			if ns, declared := ps.prefixes[prefix]; declared {
				return ns + local, nil
			}
		}
		return t.text, nil
	}
	ns, declared := ps.prefixes[prefix]
	if !declared {
		return "", ps.errorf(t, "undeclared prefix "+prefix+":")
	}
	return ns + local, nil
}
