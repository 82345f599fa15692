// Package templates loads template descriptors and assembles the schema-directed refinement
// query for a job's configured artifact list, grounded on the teacher's
// internal/transcription/interfaces.ParameterSchema shape, repurposed for spec.md §4.4's
// custom_fields schema header.
package templates

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
)

const descriptorFileName = "template.yaml"

// Template is one named rendering template: the plugin it targets, the body it feeds that
// plugin, and the custom fields it requires from REFINE.
type Template struct {
	Name               string                        `yaml:"name" json:"name"`
	Plugin             string                        `yaml:"plugin" json:"plugin"`
	Description        string                        `yaml:"description" json:"description"`
	CustomFields       map[string]models.FieldSchema `yaml:"custom_fields" json:"custom_fields"`
	Body               string                        `yaml:"body" json:"body"`
	RequiresTranscript bool                          `yaml:"requires_transcript" json:"requires_transcript"`
}

// Registry is a name-keyed map of discovered templates, loaded once at startup.
type Registry struct {
	templates map[string]Template
}

// Load discovers every <dir>/<name>/template.yaml and parses it into the registry.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir %s: %w", dir, err)
	}
	r := &Registry{templates: make(map[string]Template)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), descriptorFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if t.Name == "" {
			t.Name = e.Name()
		}
		r.templates[t.Name] = t
	}
	return r, nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// AssembleSchema unions the custom_fields of every template named by artifacts, merging by
// field name. Two templates may declare the same field name only if their structures are
// identical; otherwise AssembleSchema returns a TemplateSchemaConflict-wrapped error so the
// caller can report which templates and field collided (spec.md §4.4).
func (r *Registry) AssembleSchema(artifacts []models.Artifact) (map[string]models.FieldSchema, error) {
	merged := make(map[string]models.FieldSchema)
	owner := make(map[string]string) // field name -> template name that first declared it

	for _, a := range artifacts {
		t, ok := r.templates[a.Template]
		if !ok {
			return nil, fmt.Errorf("template %q: not found", a.Template)
		}
		for field, schema := range t.CustomFields {
			existing, seen := merged[field]
			if !seen {
				merged[field] = schema
				owner[field] = t.Name
				continue
			}
			if !existing.Structure.Equal(schema.Structure) {
				return nil, &ConflictError{
					Field:     field,
					TemplateA: owner[field],
					TemplateB: t.Name,
				}
			}
		}
	}

	if len(merged) == 0 {
		return models.DefaultSchema(), nil
	}
	return merged, nil
}

// ConflictError reports two templates declaring the same field name with incompatible
// structures, surfaced to the CLI as the TemplateSchemaConflict condition.
type ConflictError struct {
	Field     string
	TemplateA string
	TemplateB string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("template schema conflict: field %q declared incompatibly by %q and %q", e.Field, e.TemplateA, e.TemplateB)
}

// Unwrap lets callers match this condition with errors.Is(err, pipeline.ErrTemplateSchemaConflict).
func (e *ConflictError) Unwrap() error { return pipeline.ErrTemplateSchemaConflict }
