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
	"github.com/jfima/amanu/internal/providers"
)

func TestIngestValidatePrerequisitesMissingSource(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("/does/not/exist.mp3", models.Configuration{})
	require.NoError(t, err)

	i := &Ingest{}
	assert.Error(t, i.ValidatePrerequisites(job))
}

func TestIngestValidatePrerequisitesEmptySource(t *testing.T) {
	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "empty.mp3")
	require.NoError(t, os.WriteFile(source, nil, 0644))

	store := jobstore.New(t.TempDir())
	job, err := store.Create(source, models.Configuration{})
	require.NoError(t, err)

	i := &Ingest{}
	assert.Error(t, i.ValidatePrerequisites(job))
}

func TestIngestExecuteCopiesSourceIntoMediaDir(t *testing.T) {
	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "recording.wav")
	require.NoError(t, os.WriteFile(source, []byte("fake audio bytes"), 0644))

	store := jobstore.New(t.TempDir())
	job, err := store.Create(source, models.Configuration{CompressionMode: "original"})
	require.NoError(t, err)

	i := &Ingest{}
	require.NoError(t, i.ValidatePrerequisites(job))
	require.NoError(t, i.Execute(context.Background(), job))

	assert.FileExists(t, filepath.Join(job.Dir, jobstore.DirMedia, "recording.wav"))
	assert.FileExists(t, filepath.Join(job.Dir, jobstore.FileIngest))

	var result models.IngestResult
	require.NoError(t, jobstore.ReadArtifact(filepath.Join(job.Dir, jobstore.FileIngest), &result))
	assert.Equal(t, source, result.SourcePath)
}

func TestShouldUploadForCacheRequiresCapabilityAndDurationThreshold(t *testing.T) {
	assert.False(t, shouldUploadForCache(providers.IngestSpecs{NeedsUpstreamCache: false}, 600))
	assert.False(t, shouldUploadForCache(providers.IngestSpecs{NeedsUpstreamCache: true}, 299))
	assert.True(t, shouldUploadForCache(providers.IngestSpecs{NeedsUpstreamCache: true}, 300))
}

type stubCachingTranscriber struct {
	stubTranscriber
	specs    providers.IngestSpecs
	uploaded string
}

func (s *stubCachingTranscriber) IngestSpecs() providers.IngestSpecs { return s.specs }

func (s *stubCachingTranscriber) UploadForCache(ctx context.Context, path string) (string, error) {
	s.uploaded = path
	return "cache-handle-1", nil
}

func TestIngestUploadForCacheUsesProviderWhenAboveThreshold(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("source.wav", models.Configuration{TranscribeProvider: "fake"})
	require.NoError(t, err)

	tp := &stubCachingTranscriber{specs: providers.IngestSpecs{NeedsUpstreamCache: true}}
	i := &Ingest{Registry: newScribeRegistry(t, &stubTranscriber{})}
	i.Registry.RegisterFactory("fake", func(desc models.ProviderDescriptor) (any, error) { return tp, nil })

	result := models.IngestResult{WorkingCopyPath: "/work/media/source.wav", DurationSeconds: 600}
	handle, err := i.uploadForCache(context.Background(), job, result)
	require.NoError(t, err)
	assert.Equal(t, "cache-handle-1", handle)
	assert.Equal(t, result.WorkingCopyPath, tp.uploaded)
}

func TestIngestUploadForCacheSkipsBelowThreshold(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("source.wav", models.Configuration{TranscribeProvider: "fake"})
	require.NoError(t, err)

	tp := &stubCachingTranscriber{specs: providers.IngestSpecs{NeedsUpstreamCache: true}}
	i := &Ingest{Registry: newScribeRegistry(t, &stubTranscriber{})}
	i.Registry.RegisterFactory("fake", func(desc models.ProviderDescriptor) (any, error) { return tp, nil })

	result := models.IngestResult{WorkingCopyPath: "/work/media/source.wav", DurationSeconds: 60}
	handle, err := i.uploadForCache(context.Background(), job, result)
	require.NoError(t, err)
	assert.Empty(t, handle)
	assert.Empty(t, tp.uploaded)
}
