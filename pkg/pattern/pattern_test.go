package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		triples int
		vars    []string
	}{
		{"single", `?entity <rdfs:label> ?label`, 1, []string{"entity", "label"}},
		{"trailing dot", `?s <http://ex.org/p> ?o .`, 1, []string{"s", "o"}},
		{"braces", `{ ?s a <http://ex.org/C> . ?s rdfs:label ?l }`, 2, []string{"s", "l"}},
		{"semicolon", `?p a foaf:Person ; foaf:name ?n ; foaf:mbox ?m .`, 3, []string{"p", "n", "m"}},
		{"comma", `?p foaf:nick "a", "b"`, 2, []string{"p"}},
		{"prefix decl", "PREFIX ex: <http://ex.org/>\n?x ex:knows ?y", 1, []string{"x", "y"}},
		{"turtle prefix", "@prefix ex: <http://ex.org/> .\n?x ex:knows ?y .", 1, []string{"x", "y"}},
		{"blank node", `?x ex:addr _:a . _:a ex:city ?c`, 2, []string{"x", "c"}},
		{"dollar var", `$x rdfs:label ?l`, 1, []string{"x", "l"}},
		{"lang literal", `?x rdfs:label "Jena"@EN`, 1, []string{"x"}},
		{"typed literal", `?x ex:age "42"^^xsd:integer`, 1, []string{"x"}},
		{"number", `?x ex:age 42`, 1, []string{"x"}},
		{"boolean", `?x ex:active true`, 1, []string{"x"}},
		{"comment", "# people\n?x a foaf:Person", 1, []string{"x"}},
		{"variable predicate", `?s ?p ?o`, 1, []string{"s", "p", "o"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := tt.text
			if tt.name == "blank node" || tt.name == "typed literal" || tt.name == "number" || tt.name == "boolean" {
				text = "PREFIX ex: <http://ex.org/>\n" + text
			}
			p, err := Parse(text)
			require.NoError(t, err)
			assert.Len(t, p.Triples(), tt.triples)
			assert.Equal(t, tt.vars, p.Variables())
		})
	}
}

func TestParse_Terms(t *testing.T) {
	p, err := Parse(`?x <rdfs:label> "Jena"@EN ; a <http://ex.org/C> ; <http://ex.org/n> 1.5`)
	require.NoError(t, err)
	tps := p.Triples()
	require.Len(t, tps, 3)

	assert.Equal(t, rdf.IRI(rdf.RDFSLabel), tps[0].P.Term)
	assert.Equal(t, rdf.LangLiteral("Jena", "en"), tps[0].O.Term)
	assert.Equal(t, rdf.IRI(rdf.RDFType), tps[1].P.Term)
	assert.Equal(t, rdf.IRI("http://ex.org/C"), tps[1].O.Term)
	assert.Equal(t, rdf.TypedLiteral("1.5", rdf.XSDDecimal), tps[2].O.Term)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ``},
		{"only comment", `# nothing`},
		{"two terms", `?s ?p`},
		{"unterminated iri", `?s <http://ex.org/p ?o`},
		{"unterminated literal", `?s ?p "abc`},
		{"undeclared prefix", `?s nope:p ?o`},
		{"literal subject", `"x" ?p ?o`},
		{"missing separator", `?s ?p ?o ?s ?p ?o`},
		{"unbalanced brace", `{ ?s ?p ?o`},
		{"bare word", `?s knows ?o`},
		{"empty variable", `? ?p ?o`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnparseable)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.text, perr.Pattern)
		})
	}
}

func TestValidate(t *testing.T) {
	const text = `?entity <rdfs:label> ?label`

	assert.NoError(t, Validate("entity", text))
	assert.NoError(t, Validate("?entity", text))
	assert.NoError(t, Validate("label", text))

	err := Validate("person", text)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingIdentityVariable)
	assert.NotErrorIs(t, err, ErrUnparseable)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "person", perr.Variable)

	// Blank nodes are not named variables.
	assert.ErrorIs(t, Validate("a", `_:a rdfs:label ?l`), ErrMissingIdentityVariable)

	// Syntax errors win over the identity check.
	assert.ErrorIs(t, Validate("entity", `?entity <rdfs:label`), ErrUnparseable)
}

func TestParse_Cached(t *testing.T) {
	a, err := Parse(`?cached rdfs:label ?l`)
	require.NoError(t, err)
	b, err := Parse(`?cached rdfs:label ?l`)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
