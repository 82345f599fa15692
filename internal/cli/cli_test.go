package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/config"
	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
)

func TestParseStageDefaultsWhenEmpty(t *testing.T) {
	s, err := parseStage("", models.StageRefine)
	require.NoError(t, err)
	assert.Equal(t, models.StageRefine, s)
}

func TestParseStageAcceptsKnownStage(t *testing.T) {
	s, err := parseStage("generate", models.StageIngest)
	require.NoError(t, err)
	assert.Equal(t, models.StageGenerate, s)
}

func TestParseStageRejectsUnknownStage(t *testing.T) {
	_, err := parseStage("bogus", models.StageIngest)
	assert.Error(t, err)
}

func TestApplyRunOverridesOnlyAppliesSetFlags(t *testing.T) {
	runSkipTranscript = true
	runCompressionMode = "compressed"
	runModel = ""
	runShelveMode = ""
	t.Cleanup(func() {
		runSkipTranscript = false
		runCompressionMode = ""
	})

	cfg := &models.Configuration{RefineModel: "existing-model", ShelveMode: "flat"}
	require.NoError(t, applyRunOverrides(cfg))

	assert.True(t, cfg.SkipTranscript)
	assert.Equal(t, "compressed", cfg.CompressionMode)
	assert.Equal(t, "existing-model", cfg.RefineModel, "unset flag must not clobber the existing value")
	assert.Equal(t, "flat", cfg.ShelveMode)
}

func TestRetentionDaysForUsesStatusSpecificWindow(t *testing.T) {
	a := &app{cfg: &config.Config{FailedJobsRetentionDays: 3, CompletedJobsRetentionDays: 14}}

	failed := &models.Job{State: models.State{Status: models.LifecycleFailed}}
	assert.Equal(t, 3, retentionDaysFor(a, failed))

	completed := &models.Job{State: models.State{Status: models.LifecycleCompleted}}
	assert.Equal(t, 14, retentionDaysFor(a, completed))

	running := &models.Job{State: models.State{Status: models.LifecycleRunning}}
	assert.Equal(t, 0, retentionDaysFor(a, running))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, isTerminal(&models.Job{State: models.State{Status: models.LifecycleFailed}}))
	assert.True(t, isTerminal(&models.Job{State: models.State{Status: models.LifecycleCompleted}}))
	assert.False(t, isTerminal(&models.Job{State: models.State{Status: models.LifecycleRunning}}))
}

func TestResolveJobWithExplicitID(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	a := &app{store: store}
	got, err := resolveJob(a, []string{job.ID})
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestResolveJobFallsBackToLatestWhenNoArgs(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	a := &app{store: store}
	got, err := resolveJob(a, nil)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestResolveJobErrorsWhenNoJobsExist(t *testing.T) {
	a := &app{store: jobstore.New(t.TempDir())}
	_, err := resolveJob(a, nil)
	assert.Error(t, err)
}

func TestMsToDuration(t *testing.T) {
	assert.Equal(t, 1500000000, int(msToDuration(1500)))
}
