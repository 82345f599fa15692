package jobstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/models"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	root := t.TempDir()
	return New(root)
}

func TestCreateWritesStateAndMeta(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("/audio/Meeting Notes.wav", models.Configuration{RefineProvider: "openaicloud"})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(job.Dir, FileState))
	assert.FileExists(t, filepath.Join(job.Dir, FileMeta))
	for _, sub := range []string{DirMedia, DirTranscripts, DirArtifacts, DirStages} {
		assert.DirExists(t, filepath.Join(job.Dir, sub))
	}
	assert.Equal(t, models.LifecycleCreated, job.State.Status)
	for _, s := range models.Stages {
		assert.Equal(t, models.StatusPending, job.StageRecord(s).Status)
	}
}

func TestLoadRoundTrips(t *testing.T) {
	store := newTestStore(t)
	created, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	loaded, err := store.Load(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, created.Meta.Source, loaded.Meta.Source)
}

func TestLoadUnknownJobErrors(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("does-not-exist")
	assert.Error(t, err)
}

func TestLoadReconstructsFromStageDetailWhenStateCorrupt(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(job.Dir, FileState), []byte("{not json"), 0644))
	require.NoError(t, WriteStageDetail(job.Dir, models.StageDetail{Stage: models.StageIngest, StartedAt: time.Now(), FinishedAt: time.Now()}))

	loaded, err := store.Load(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.StageRecord(models.StageIngest).Status)
}

func TestLoadReportsFailedWhenNoStateOrStageDetailRecoverable(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(job.Dir, FileState), []byte("{not json"), 0644))

	loaded, err := store.Load(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LifecycleFailed, loaded.State.Status)
}

func TestListFiltersByStatusAndSince(t *testing.T) {
	store := newTestStore(t)
	old, err := store.Create("old.mp3", models.Configuration{})
	require.NoError(t, err)
	old.State.Stages[models.StageIngest].Status = models.StatusCompleted
	old.State.Stages[models.StageScribe].Status = models.StatusCompleted
	old.State.Stages[models.StageRefine].Status = models.StatusCompleted
	old.State.Stages[models.StageGenerate].Status = models.StatusCompleted
	old.State.Stages[models.StageShelve].Status = models.StatusCompleted
	require.NoError(t, store.Save(old))

	_, err = store.Create("new.mp3", models.Configuration{})
	require.NoError(t, err)

	jobs, err := store.List(Filter{Status: JobStatusFilter(models.LifecycleCompleted)})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, old.ID, jobs[0].ID)
}

func TestLatestReturnsMostRecentlyUpdated(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Create("first.mp3", models.Configuration{})
	require.NoError(t, err)
	second, err := store.Create("second.mp3", models.Configuration{})
	require.NoError(t, err)

	second.State.UpdatedAt = first.State.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.Save(second))

	latest, err := store.Latest(Filter{})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestLatestReturnsNilWhenNoJobs(t *testing.T) {
	store := newTestStore(t)
	latest, err := store.Latest(Filter{})
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestDeleteRemovesJobDirectory(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(job))
	_, err = os.Stat(job.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestFinalizePrunesUnlessDebug(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	require.NoError(t, Finalize(job))
	for _, dir := range []string{DirMedia, DirTranscripts, DirArtifacts} {
		_, err := os.Stat(filepath.Join(job.Dir, dir))
		assert.True(t, os.IsNotExist(err), "%s should be pruned", dir)
	}
	assert.FileExists(t, filepath.Join(job.Dir, FileState))
}

func TestFinalizeKeepsEverythingInDebugMode(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("source.mp3", models.Configuration{Debug: true})
	require.NoError(t, err)

	require.NoError(t, Finalize(job))
	for _, dir := range []string{DirMedia, DirTranscripts, DirArtifacts} {
		assert.DirExists(t, filepath.Join(job.Dir, dir))
	}
}

func TestTrashArtifactsMovesRatherThanDeletes(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	path := filepath.Join(job.Dir, DirMedia, "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	require.NoError(t, TrashArtifacts(job.Dir, []string{path}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(job.Dir, DirTrash))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNewJobIDIsSlugAndChronologicallySortable(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	id := NewJobID(now, "/inbox/Q1 Planning Call.m4a")
	assert.Equal(t, "26-0305-143000_q1-planning-call", id)
}
