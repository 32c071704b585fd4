// Package meta models what a pipeline learns about its data: entity
// categories, cross-knowledge-base mappings and free-form annotations.
//
// Meta statements are plain RDF. Each processor writes its own statements
// through a Contribution, which attributes every mapping to that processor.
// Readers work over any graph, typically the union of a processor's and its
// ancestors' contributions.
package meta

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// Namespace is the vocabulary namespace of meta statements.
const Namespace = "https://w3id.org/kbfuse#"

// Vocabulary terms.
var (
	ClassCategory        = rdf.IRI(Namespace + "Category")
	ClassCategoryPattern = rdf.IRI(Namespace + "CategoryPattern")
	ClassMapping         = rdf.IRI(Namespace + "Mapping")

	PredName             = rdf.IRI(Namespace + "name")
	PredPattern          = rdf.IRI(Namespace + "pattern")
	PredKnowledgeBase    = rdf.IRI(Namespace + "knowledgeBase")
	PredIdentityVariable = rdf.IRI(Namespace + "identityVariable")
	PredPatternText      = rdf.IRI(Namespace + "patternText")
	PredCategory         = rdf.IRI(Namespace + "category")
	PredSource           = rdf.IRI(Namespace + "source")
	PredTarget           = rdf.IRI(Namespace + "target")
	PredSourceKB         = rdf.IRI(Namespace + "sourceKnowledgeBase")
	PredTargetKB         = rdf.IRI(Namespace + "targetKnowledgeBase")
	PredPolarity         = rdf.IRI(Namespace + "polarity")
	PredConfidence       = rdf.IRI(Namespace + "confidence")

	PredType         = rdf.IRI(rdf.RDFType)
	PredAttributedTo = rdf.IRI(rdf.PROVAttributed)
)

const (
	processorPrefix = "urn:kbfuse:processor:"
	categoryPrefix  = "urn:kbfuse:category:"
	kbPrefix        = "urn:kbfuse:kb:"
	mappingPrefix   = "urn:kbfuse:mapping:"
	patternPrefix   = "urn:kbfuse:pattern:"
)

// idNamespace seeds the name-based UUIDs of mapping and pattern nodes.
var idNamespace = uuid.MustParse("8f0e2b1c-4d3a-5b6c-9e7f-a1b2c3d4e5f6")

// ProcessorIRI names a processor in provenance statements.
func ProcessorIRI(id processor.ID) rdf.Term {
	return rdf.IRI(processorPrefix + url.PathEscape(string(id)))
}

// ProcessorFromIRI reverses ProcessorIRI.
func ProcessorFromIRI(t rdf.Term) (processor.ID, bool) {
	rest, ok := strings.CutPrefix(t.Value, processorPrefix)
	if !ok || !t.IsIRI() {
		return "", false
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return processor.ID(id), true
}

// CategoryIRI names a category. Categories are shared by name across
// processors.
func CategoryIRI(name string) rdf.Term {
	return rdf.IRI(categoryPrefix + url.PathEscape(name))
}

// KnowledgeBaseIRI names a knowledge base.
func KnowledgeBaseIRI(kb processor.KnowledgeBaseID) rdf.Term {
	return rdf.IRI(kbPrefix + string(kb))
}

// KnowledgeBaseFromIRI reverses KnowledgeBaseIRI.
func KnowledgeBaseFromIRI(t rdf.Term) (processor.KnowledgeBaseID, bool) {
	rest, ok := strings.CutPrefix(t.Value, kbPrefix)
	if !ok || !t.IsIRI() {
		return "", false
	}
	return processor.KnowledgeBaseID(rest), true
}

func nameBasedIRI(prefix string, parts ...string) rdf.Term {
	key := strings.Join(parts, "\x00")
	return rdf.IRI(prefix + uuid.NewSHA1(idNamespace, []byte(key)).String())
}
