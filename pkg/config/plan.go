// Package config loads pipeline plans and application settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

// Plan is a pipeline plan as written in a YAML or JSON file.
type Plan struct {
	Name           string          `yaml:"name,omitempty" json:"name,omitempty"`
	KnowledgeBases []KnowledgeBase `yaml:"knowledge_bases" json:"knowledge_bases"`
	Processors     []ProcessorSpec `yaml:"processors" json:"processors"`
}

// KnowledgeBase declares a knowledge base. ID is optional; it is derived
// from Name when empty.
type KnowledgeBase struct {
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
}

// ProcessorSpec declares one processor.
type ProcessorSpec struct {
	ID            string         `yaml:"id" json:"id"`
	Type          string         `yaml:"type" json:"type"`
	KnowledgeBase string         `yaml:"knowledge_base,omitempty" json:"knowledge_base,omitempty"`
	DependsOn     []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Params        map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// ParsePlan decodes a plan. Unknown keys are rejected.
func ParsePlan(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: plan is empty", apperrors.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: failed to parse plan: %v", apperrors.ErrInvalidInput, err)
	}
	return &p, nil
}

// LoadPlan reads and decodes a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	p, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// KnowledgeBaseIDs resolves the declared knowledge bases to IDs by name.
func (p *Plan) KnowledgeBaseIDs() (map[string]processor.KnowledgeBaseID, error) {
	out := make(map[string]processor.KnowledgeBaseID, len(p.KnowledgeBases))
	seen := make(map[processor.KnowledgeBaseID]string, len(p.KnowledgeBases))
	for i, kb := range p.KnowledgeBases {
		if kb.Name == "" {
			return nil, fmt.Errorf("%w: knowledge_bases[%d] has no name", apperrors.ErrInvalidInput, i)
		}
		if _, dup := out[kb.Name]; dup {
			return nil, fmt.Errorf("%w: knowledge base %q declared twice", apperrors.ErrInvalidInput, kb.Name)
		}
		id := processor.KnowledgeBaseIDFromName(kb.Name)
		if kb.ID != "" {
			parsed, err := processor.ParseKnowledgeBaseID(kb.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: knowledge base %q: %v", apperrors.ErrInvalidInput, kb.Name, err)
			}
			id = parsed
		}
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: knowledge bases %q and %q share id %s", apperrors.ErrInvalidInput, other, kb.Name, id)
		}
		seen[id] = kb.Name
		out[kb.Name] = id
	}
	return out, nil
}

// Resolve turns the plan into processor definitions. Knowledge base
// references are resolved by name.
func (p *Plan) Resolve() ([]processor.Definition, map[string]processor.KnowledgeBaseID, error) {
	kbs, err := p.KnowledgeBaseIDs()
	if err != nil {
		return nil, nil, err
	}

	defs := make([]processor.Definition, 0, len(p.Processors))
	for _, ps := range p.Processors {
		def := processor.Definition{
			ID:     processor.ID(ps.ID),
			Type:   ps.Type,
			Params: ps.Params,
		}
		if ps.KnowledgeBase != "" {
			id, ok := kbs[ps.KnowledgeBase]
			if !ok {
				return nil, nil, fmt.Errorf("%w: processor %q references undeclared knowledge base %q",
					apperrors.ErrInvalidInput, ps.ID, ps.KnowledgeBase)
			}
			def.KnowledgeBase = id
		}
		for _, dep := range ps.DependsOn {
			def.DependsOn = append(def.DependsOn, processor.ID(dep))
		}
		defs = append(defs, def)
	}
	return defs, kbs, nil
}
