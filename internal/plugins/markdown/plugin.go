// Package markdown is the reference plugin shipped in-tree so GenerateStage can be exercised
// end-to-end without an external renderer. It executes the template's body as a Go text
// template against the enriched context.
package markdown

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/templates"
)

// Plugin renders a template's body field as a text/template document.
type Plugin struct{}

// New builds the markdown plugin.
func New() *Plugin { return &Plugin{} }

// Name identifies this plugin in a job's artifact configuration.
func (p *Plugin) Name() string { return "markdown" }

// Render executes tmpl.Body against ctx. rawTranscript is accepted but unused by this plugin;
// templates that need verbatim transcript text should place it in the enriched context during
// REFINE instead.
func (p *Plugin) Render(tmpl templates.Template, ctx models.EnrichedContext, rawTranscript []models.TranscriptSegment) ([]byte, string, error) {
	t, err := template.New(tmpl.Name).Parse(tmpl.Body)
	if err != nil {
		return nil, "", fmt.Errorf("markdown plugin: parse template %q: %w", tmpl.Name, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any(ctx)); err != nil {
		return nil, "", fmt.Errorf("markdown plugin: render template %q: %w", tmpl.Name, err)
	}

	filename := strings.ReplaceAll(tmpl.Name, " ", "-") + ".md"
	return buf.Bytes(), filename, nil
}
