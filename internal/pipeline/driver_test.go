package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
)

// fakeExecutor is a scriptable Executor for exercising the driver without real stage logic.
type fakeExecutor struct {
	stage      models.Stage
	prereqErr  error
	execErr    error
	executed   int
	skip       bool
	skipReason string
}

func (f *fakeExecutor) Stage() models.Stage { return f.stage }
func (f *fakeExecutor) ValidatePrerequisites(job *models.Job) error { return f.prereqErr }
func (f *fakeExecutor) Execute(ctx context.Context, job *models.Job) error {
	f.executed++
	return f.execErr
}
func (f *fakeExecutor) ShouldSkip(job *models.Job) (bool, string) { return f.skip, f.skipReason }

func allFakeExecutors() map[models.Stage]*fakeExecutor {
	m := map[models.Stage]*fakeExecutor{}
	for _, s := range models.Stages {
		m[s] = &fakeExecutor{stage: s}
	}
	return m
}

func toExecutorMap(fakes map[models.Stage]*fakeExecutor) map[models.Stage]Executor {
	m := map[models.Stage]Executor{}
	for s, f := range fakes {
		m[s] = f
	}
	return m
}

func TestRunExecutesEveryStageInOrder(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	finalized := false
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error {
		finalized = true
		return nil
	})

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, "")
	require.NoError(t, err)

	for _, s := range models.Stages {
		assert.Equal(t, 1, fakes[s].executed, "stage %s should run exactly once", s)
		assert.Equal(t, models.StatusCompleted, job.StageRecord(s).Status)
	}
	assert.True(t, finalized, "finalize hook should fire once SHELVE completes")
}

func TestRunStopsAtStopAfter(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, models.StageScribe)
	require.NoError(t, err)

	assert.Equal(t, 1, fakes[models.StageIngest].executed)
	assert.Equal(t, 1, fakes[models.StageScribe].executed)
	assert.Equal(t, 0, fakes[models.StageRefine].executed)
	assert.Equal(t, models.StatusPending, job.StageRecord(models.StageRefine).Status)
}

func TestRunHaltsOnStageFailureAndLeavesLaterStagesPending(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	fakes[models.StageScribe].execErr = errors.New("provider unreachable")
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, "")
	require.Error(t, err)

	assert.Equal(t, models.StatusCompleted, job.StageRecord(models.StageIngest).Status)
	assert.Equal(t, models.StatusFailed, job.StageRecord(models.StageScribe).Status)
	assert.Equal(t, "provider unreachable", job.StageRecord(models.StageScribe).Error)
	assert.Equal(t, 0, fakes[models.StageRefine].executed)
}

func TestRunHaltsWhenPrerequisiteUnmet(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	fakes[models.StageRefine].prereqErr = &PrerequisiteError{Stage: models.StageRefine, Cause: ErrMissingContext}
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, "")
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, job.StageRecord(models.StageRefine).Status)
	assert.Equal(t, 0, fakes[models.StageRefine].executed)
}

func TestSkippableStageLandsOnSkippedNotCompleted(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	fakes[models.StageScribe].skip = true
	fakes[models.StageScribe].skipReason = "skip-transcript requested"
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{SkipTranscript: true}, "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkipped, job.StageRecord(models.StageScribe).Status)
	assert.Equal(t, 0, fakes[models.StageScribe].executed)
	assert.Equal(t, 1, fakes[models.StageRefine].executed, "a SKIPPED earlier stage still satisfies later prerequisites")
}

func TestContinueResetsFromStageAndReruns(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, "")
	require.NoError(t, err)

	err = driver.Continue(context.Background(), job, models.StageRefine, "")
	require.NoError(t, err)

	assert.Equal(t, 1, fakes[models.StageIngest].executed, "earlier stages are not re-run")
	assert.Equal(t, 2, fakes[models.StageRefine].executed)
	assert.Equal(t, 2, fakes[models.StageGenerate].executed)
}

func TestRetryDefaultsToFirstIncompleteStage(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	fakes[models.StageGenerate].execErr = errors.New("render failed")
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	job, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, "")
	require.Error(t, err)

	fakes[models.StageGenerate].execErr = nil
	err = driver.Retry(context.Background(), job, "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, fakes[models.StageRefine].executed, "stages before the failure are not re-run")
	assert.Equal(t, 1, fakes[models.StageGenerate].executed)
	assert.Equal(t, models.StatusCompleted, job.StageRecord(models.StageShelve).Status)
}

func TestOnTransitionReceivesEveryStageChange(t *testing.T) {
	store := jobstore.New(t.TempDir())
	fakes := allFakeExecutors()
	driver := New(store, toExecutorMap(fakes), func(job *models.Job) error { return nil })

	var transitions []models.StageStatus
	driver.OnTransition(func(job *models.Job, stage models.Stage, status models.StageStatus) {
		transitions = append(transitions, status)
	})

	_, err := driver.Run(context.Background(), "source.mp3", models.Configuration{}, models.StageIngest)
	require.NoError(t, err)

	require.Len(t, transitions, 2)
	assert.Equal(t, models.StatusRunning, transitions[0])
	assert.Equal(t, models.StatusCompleted, transitions[1])
}

func TestCancelMarksOnlyRunningStageFailed(t *testing.T) {
	job := &models.Job{State: models.NewState(time.Now())}
	job.StageRecord(models.StageIngest).Status = models.StatusCompleted
	job.StageRecord(models.StageScribe).Status = models.StatusRunning

	Cancel(job)

	assert.Equal(t, models.StatusCompleted, job.StageRecord(models.StageIngest).Status)
	assert.Equal(t, models.StatusFailed, job.StageRecord(models.StageScribe).Status)
	assert.Equal(t, ErrCancelled.Error(), job.StageRecord(models.StageScribe).Error)
}
