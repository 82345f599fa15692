package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/templates"
)

type stubPlugin struct{ name string }

func (s stubPlugin) Name() string { return s.name }
func (s stubPlugin) Render(templates.Template, models.EnrichedContext, []models.TranscriptSegment) ([]byte, string, error) {
	return []byte("stub"), "stub.txt", nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stubPlugin{name: "stub"})

	p, ok := r.Get("stub")
	assert.True(t, ok)
	assert.Equal(t, "stub", p.Name())
}

func TestRegistryGetMissingPlugin(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}
