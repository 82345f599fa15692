package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	tmplDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(tmplDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, descriptorFileName), []byte(body), 0644))
}

func TestLoadDiscoversTemplatesByDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "meeting-notes", `
name: meeting-notes
plugin: markdown
description: Structured meeting notes
body: "{{.Summary}}"
`)

	reg, err := Load(dir)
	require.NoError(t, err)

	tmpl, ok := reg.Get("meeting-notes")
	require.True(t, ok)
	assert.Equal(t, "markdown", tmpl.Plugin)
}

func TestLoadDefaultsNameToDirectoryWhenUnset(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "journal", `plugin: markdown`)

	reg, err := Load(dir)
	require.NoError(t, err)

	_, ok := reg.Get("journal")
	assert.True(t, ok)
}

func TestAssembleSchemaUnionsFieldsAcrossTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a", `
name: a
plugin: markdown
custom_fields:
  headline:
    description: headline
    structure:
      kind: primitive
`)
	writeTemplate(t, dir, "b", `
name: b
plugin: markdown
custom_fields:
  mood:
    description: mood
    structure:
      kind: primitive
`)

	reg, err := Load(dir)
	require.NoError(t, err)

	schema, err := reg.AssembleSchema([]models.Artifact{{Template: "a"}, {Template: "b"}})
	require.NoError(t, err)
	assert.Contains(t, schema, "headline")
	assert.Contains(t, schema, "mood")
}

func TestAssembleSchemaReturnsDefaultWhenNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	reg, err := Load(dir)
	require.NoError(t, err)

	schema, err := reg.AssembleSchema(nil)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSchema(), schema)
}

func TestAssembleSchemaConflictOnIncompatibleStructures(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a", `
name: a
plugin: markdown
custom_fields:
  tags:
    description: tags as a string
    structure:
      kind: primitive
`)
	writeTemplate(t, dir, "b", `
name: b
plugin: markdown
custom_fields:
  tags:
    description: tags as a list
    structure:
      kind: array
`)

	reg, err := Load(dir)
	require.NoError(t, err)

	_, err = reg.AssembleSchema([]models.Artifact{{Template: "a"}, {Template: "b"}})
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "tags", conflict.Field)
	assert.ErrorIs(t, err, pipeline.ErrTemplateSchemaConflict)
}

func TestAssembleSchemaErrorsOnUnknownTemplate(t *testing.T) {
	dir := t.TempDir()
	reg, err := Load(dir)
	require.NoError(t, err)

	_, err = reg.AssembleSchema([]models.Artifact{{Template: "missing"}})
	assert.Error(t, err)
}
