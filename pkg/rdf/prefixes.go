package rdf

import "strings"

// Well-known vocabulary IRIs.
const (
	RDFNamespace   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNamespace  = "http://www.w3.org/2000/01/rdf-schema#"
	OWLNamespace   = "http://www.w3.org/2002/07/owl#"
	XSDNamespace   = "http://www.w3.org/2001/XMLSchema#"
	PROVNamespace  = "http://www.w3.org/ns/prov#"
	SKOSNamespace  = "http://www.w3.org/2004/02/skos/core#"
	FOAFNamespace  = "http://xmlns.com/foaf/0.1/"
	SchemaOrg      = "http://schema.org/"
	DCNamespace    = "http://purl.org/dc/elements/1.1/"
	DCTermsNS      = "http://purl.org/dc/terms/"
	RDFType        = RDFNamespace + "type"
	RDFSLabel      = RDFSNamespace + "label"
	OWLSameAs      = OWLNamespace + "sameAs"
	XSDString      = XSDNamespace + "string"
	XSDInteger     = XSDNamespace + "integer"
	XSDDecimal     = XSDNamespace + "decimal"
	XSDDouble      = XSDNamespace + "double"
	XSDBoolean     = XSDNamespace + "boolean"
	RDFLangString  = RDFNamespace + "langString"
	PROVAttributed = PROVNamespace + "wasAttributedTo"
)

// defaultPrefixes returns the predeclared namespace prefixes.
func defaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":     RDFNamespace,
		"rdfs":    RDFSNamespace,
		"owl":     OWLNamespace,
		"xsd":     XSDNamespace,
		"prov":    PROVNamespace,
		"skos":    SKOSNamespace,
		"foaf":    FOAFNamespace,
		"schema":  SchemaOrg,
		"dc":      DCNamespace,
		"dcterms": DCTermsNS,
	}
}

// Prefixes returns a fresh copy of the predeclared prefix table.
func Prefixes() map[string]string {
	return defaultPrefixes()
}

var wellKnown = defaultPrefixes()

// Expand resolves a compact "prefix:local" name against the predeclared
// prefixes. Names with an unknown prefix, and full IRIs, are returned as is.
func Expand(name string) string {
	prefix, local, ok := strings.Cut(name, ":")
	if !ok || strings.HasPrefix(local, "//") {
		return name
	}
	if ns, known := wellKnown[prefix]; known {
		return ns + local
	}
	return name
}
