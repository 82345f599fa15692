package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/plugins"
	"github.com/jfima/amanu/internal/plugins/markdown"
	"github.com/jfima/amanu/internal/templates"
)

func newJobWithEnrichedContext(t *testing.T, store *jobstore.FSStore, cfg models.Configuration) *models.Job {
	t.Helper()
	job, err := store.Create("source.mp3", cfg)
	require.NoError(t, err)
	require.NoError(t, jobstore.WriteArtifact(
		filepath.Join(job.Dir, jobstore.FileEnrichedContext),
		models.EnrichedContext{"summary": "Quarterly planning call"},
	))
	return job
}

func newTemplateRegistry(t *testing.T, name, body string) *templates.Registry {
	t.Helper()
	dir := t.TempDir()
	tmplDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(tmplDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, "template.yaml"), []byte(body), 0644))
	reg, err := templates.Load(dir)
	require.NoError(t, err)
	return reg
}

func TestGenerateValidatePrerequisitesRequiresEnrichedContext(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("source.mp3", models.Configuration{Artifacts: []models.Artifact{{Plugin: "markdown", Template: "notes"}}})
	require.NoError(t, err)

	g := &Generate{Plugins: plugins.NewRegistry(), Templates: newTemplateRegistry(t, "notes", "plugin: markdown\nbody: \"{{.summary}}\"")}
	err = g.ValidatePrerequisites(job)
	assert.Error(t, err)
}

func TestGenerateValidatePrerequisitesRequiresArtifacts(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job := newJobWithEnrichedContext(t, store, models.Configuration{})

	g := &Generate{Plugins: plugins.NewRegistry(), Templates: newTemplateRegistry(t, "notes", "plugin: markdown")}
	err := g.ValidatePrerequisites(job)
	assert.Error(t, err)
}

func TestGenerateExecuteRendersEveryArtifact(t *testing.T) {
	store := jobstore.New(t.TempDir())
	cfg := models.Configuration{Artifacts: []models.Artifact{
		{Plugin: "markdown", Template: "notes"},
		{Plugin: "markdown", Template: "digest"},
	}}
	job := newJobWithEnrichedContext(t, store, cfg)

	tmplDir := t.TempDir()
	for name, body := range map[string]string{
		"notes":  "name: notes\nplugin: markdown\nbody: \"# {{.summary}}\"",
		"digest": "name: digest\nplugin: markdown\nbody: \"Digest: {{.summary}}\"",
	} {
		dir := filepath.Join(tmplDir, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "template.yaml"), []byte(body), 0644))
	}
	tmplReg, err := templates.Load(tmplDir)
	require.NoError(t, err)

	pluginReg := plugins.NewRegistry()
	pluginReg.Register(markdown.New())

	g := &Generate{Plugins: pluginReg, Templates: tmplReg}
	require.NoError(t, g.ValidatePrerequisites(job))
	require.NoError(t, g.Execute(context.Background(), job))

	for _, filename := range []string{"notes.md", "digest.md"} {
		assert.FileExists(t, filepath.Join(job.Dir, jobstore.DirArtifacts, filename))
	}
}

func TestGenerateExecuteSkipsArtifactRequiringAbsentTranscript(t *testing.T) {
	store := jobstore.New(t.TempDir())
	cfg := models.Configuration{Artifacts: []models.Artifact{
		{Plugin: "markdown", Template: "notes"},
		{Plugin: "markdown", Template: "subtitles"},
	}}
	job := newJobWithEnrichedContext(t, store, cfg)

	tmplDir := t.TempDir()
	for name, body := range map[string]string{
		"notes":     "name: notes\nplugin: markdown\nbody: \"# {{.summary}}\"",
		"subtitles": "name: subtitles\nplugin: markdown\nrequires_transcript: true\nbody: \"subs\"",
	} {
		dir := filepath.Join(tmplDir, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "template.yaml"), []byte(body), 0644))
	}
	tmplReg, err := templates.Load(tmplDir)
	require.NoError(t, err)

	pluginReg := plugins.NewRegistry()
	pluginReg.Register(markdown.New())

	g := &Generate{Plugins: pluginReg, Templates: tmplReg}
	require.NoError(t, g.Execute(context.Background(), job))

	assert.FileExists(t, filepath.Join(job.Dir, jobstore.DirArtifacts, "notes.md"))
	assert.NoFileExists(t, filepath.Join(job.Dir, jobstore.DirArtifacts, "subtitles.md"))

	var detail models.StageDetail
	require.NoError(t, jobstore.ReadArtifact(filepath.Join(job.Dir, "_stages", "generate.json"), &detail))
}

func TestGenerateExecuteErrorsOnMissingPlugin(t *testing.T) {
	store := jobstore.New(t.TempDir())
	cfg := models.Configuration{Artifacts: []models.Artifact{{Plugin: "does-not-exist", Template: "notes"}}}
	job := newJobWithEnrichedContext(t, store, cfg)

	g := &Generate{Plugins: plugins.NewRegistry(), Templates: newTemplateRegistry(t, "notes", "name: notes\nplugin: markdown\nbody: x")}
	err := g.Execute(context.Background(), job)
	assert.Error(t, err)
}
