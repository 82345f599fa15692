// Package plugins implements the GENERATE-stage rendering contract (spec.md §6):
// render(template, context, raw_transcript?) -> (bytes, filename). Rendering engines are
// out-of-core per spec.md §1 Non-goals; this package carries only the contract and one
// reference implementation so GenerateStage has something to exercise end-to-end.
package plugins

import (
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/templates"
)

// Plugin renders one template against a job's enriched context (and, for templates that
// declare they need it, the raw transcript) into artifact bytes plus a suggested filename.
type Plugin interface {
	Name() string
	Render(tmpl templates.Template, ctx models.EnrichedContext, rawTranscript []models.TranscriptSegment) ([]byte, string, error)
}

// Registry is a name-keyed map of available plugins.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds an empty registry; callers Register each plugin they wish to support.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under its own Name().
func (r *Registry) Register(p Plugin) {
	r.plugins[p.Name()] = p
}

// Get returns the named plugin.
func (r *Registry) Get(name string) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}
