// Package pipeline implements the staged, resumable state machine over persistent per-job
// state described in spec.md §4.2: prerequisite validation, partial execution, retry-from-
// stage, and stop-after semantics.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/pkg/logger"
)

// Driver orchestrates stage execution with from-stage and stop-after controls.
type Driver struct {
	store          jobstore.Store
	executors      map[models.Stage]Executor
	finalize       func(job *models.Job) error
	notify         func(job *models.Job, stage models.Stage, status models.StageStatus)
	validateConfig func(models.Configuration) error
}

// New builds a driver bound to a job store, the ordered stage executors, and a finalize hook
// invoked whenever a run reaches SHELVE successfully.
func New(store jobstore.Store, executors map[models.Stage]Executor, finalize func(job *models.Job) error) *Driver {
	return &Driver{store: store, executors: executors, finalize: finalize}
}

// OnTransition registers a callback invoked every time a stage's status is persisted
// (RUNNING, COMPLETED, FAILED, SKIPPED), used to feed the optional status HTTP surface's SSE
// stream. Nil by default, so a CLI-only run pays nothing for this hook.
func (d *Driver) OnTransition(f func(job *models.Job, stage models.Stage, status models.StageStatus)) {
	d.notify = f
}

// OnValidateConfig registers a hook run before a new job's working directory is created,
// rejecting a configuration (unknown provider/model/template, a template schema conflict)
// without ever touching the filesystem. Nil by default, so a driver built without registry
// access (it cannot import internal/templates or internal/providers without an import cycle)
// still works — it just skips this check.
func (d *Driver) OnValidateConfig(f func(models.Configuration) error) {
	d.validateConfig = f
}

// Run creates a new job from source and executes stages from INGEST through stopAfter
// (default SHELVE). Finalization happens iff the run reaches SHELVE.
func (d *Driver) Run(ctx context.Context, source string, cfg models.Configuration, stopAfter models.Stage) (*models.Job, error) {
	if stopAfter == "" {
		stopAfter = models.StageShelve
	}
	if d.validateConfig != nil {
		if err := d.validateConfig(cfg); err != nil {
			return nil, err
		}
	}
	job, err := d.store.Create(source, cfg)
	if err != nil {
		return nil, err
	}
	err = d.execute(ctx, job, models.StageIngest, stopAfter)
	return job, err
}

// Continue resets fromStage (and every later stage) to PENDING, then executes fromStage
// through stopAfter (default SHELVE). Finalization happens iff the run reaches SHELVE.
func (d *Driver) Continue(ctx context.Context, job *models.Job, fromStage, stopAfter models.Stage) error {
	if stopAfter == "" {
		stopAfter = models.StageShelve
	}
	if err := d.clearDownstream(job, fromStage); err != nil {
		return err
	}
	job.ResetFrom(fromStage)
	if err := d.store.Save(job); err != nil {
		return err
	}
	return d.execute(ctx, job, fromStage, stopAfter)
}

// Retry behaves like Continue but defaults fromStage to the job's first non-COMPLETED stage.
func (d *Driver) Retry(ctx context.Context, job *models.Job, fromStage, stopAfter models.Stage) error {
	if fromStage == "" {
		fromStage = job.FirstIncompleteStage()
		if fromStage == "" {
			fromStage = models.StageIngest
		}
	}
	return d.Continue(ctx, job, fromStage, stopAfter)
}

// clearDownstream moves stage output directories/files to trash (debug mode) or deletes them
// outright, for every stage from fromStage onward, ahead of destructive re-execution.
func (d *Driver) clearDownstream(job *models.Job, fromStage models.Stage) error {
	idx := fromStage.Index()
	if idx < 0 {
		return fmt.Errorf("unknown stage %q", fromStage)
	}
	var paths []string
	for i := idx; i < len(models.Stages); i++ {
		switch models.Stages[i] {
		case models.StageIngest:
			paths = append(paths, filepath.Join(job.Dir, jobstore.FileIngest))
		case models.StageScribe:
			paths = append(paths, filepath.Join(job.Dir, jobstore.FileRawTranscript))
		case models.StageRefine:
			paths = append(paths, filepath.Join(job.Dir, jobstore.FileEnrichedContext))
		case models.StageGenerate:
			entries, _ := os.ReadDir(filepath.Join(job.Dir, jobstore.DirArtifacts))
			for _, e := range entries {
				paths = append(paths, filepath.Join(job.Dir, jobstore.DirArtifacts, e.Name()))
			}
		}
	}
	if job.Meta.Configuration.Debug {
		return jobstore.TrashArtifacts(job.Dir, paths)
	}
	for _, p := range paths {
		os.Remove(p)
	}
	return nil
}

// execute runs stages in order starting at fromStage, halting on the first prerequisite or
// execution failure, and stopping after stopAfter on success.
func (d *Driver) execute(ctx context.Context, job *models.Job, fromStage, stopAfter models.Stage) error {
	startIdx := fromStage.Index()
	stopIdx := stopAfter.Index()
	if startIdx < 0 || stopIdx < 0 {
		return fmt.Errorf("invalid stage range %q..%q", fromStage, stopAfter)
	}

	for i := startIdx; i <= stopIdx; i++ {
		stage := models.Stages[i]
		exec, ok := d.executors[stage]
		if !ok {
			return fmt.Errorf("no executor registered for stage %q", stage)
		}

		if err := exec.ValidatePrerequisites(job); err != nil {
			d.failStage(job, stage, err)
			_ = d.store.Save(job)
			return err
		}

		rec := job.StageRecord(stage)
		// Already satisfied by a prior partial run (e.g. SKIPPED from --skip-transcript).
		if rec.Status == models.StatusCompleted || rec.Status == models.StatusSkipped {
			continue
		}

		if !job.AllEarlierCompletedOrSkipped(stage) {
			err := fmt.Errorf("stage %s cannot run: an earlier stage is not COMPLETED or SKIPPED", stage)
			d.failStage(job, stage, err)
			_ = d.store.Save(job)
			return err
		}

		if skippable, ok := exec.(Skippable); ok {
			if skip, reason := skippable.ShouldSkip(job); skip {
				rec.Status = models.StatusSkipped
				rec.Error = ""
				if err := d.store.Save(job); err != nil {
					return err
				}
				logger.Info("Stage skipped", "job_id", job.ID, "stage", string(stage), "reason", reason)
				d.emit(job, stage, models.StatusSkipped)
				continue
			}
		}

		start := time.Now()
		rec.Status = models.StatusRunning
		rec.StartedAt = &start
		rec.Error = ""
		if err := d.store.Save(job); err != nil {
			return err
		}
		logger.StageStarted(job.ID, string(stage))
		d.emit(job, stage, models.StatusRunning)

		err := exec.Execute(ctx, job)
		finish := time.Now()
		rec.FinishedAt = &finish

		if err != nil {
			d.failStage(job, stage, err)
			_ = d.store.Save(job)
			logger.StageFailed(job.ID, string(stage), finish.Sub(start), err)
			d.emit(job, stage, models.StatusFailed)
			return err
		}

		rec.Status = models.StatusCompleted
		if err := d.store.Save(job); err != nil {
			return err
		}
		logger.StageCompleted(job.ID, string(stage), finish.Sub(start))
		d.emit(job, stage, models.StatusCompleted)

		if stage == models.StageShelve && d.finalize != nil {
			if err := d.finalize(job); err != nil {
				return fmt.Errorf("finalize: %w", err)
			}
		}
	}
	return nil
}

// emit calls the registered transition hook, if any.
func (d *Driver) emit(job *models.Job, stage models.Stage, status models.StageStatus) {
	if d.notify != nil {
		d.notify(job, stage, status)
	}
}

// failStage marks stage FAILED with a human-readable cause. Later stages remain PENDING (not
// SKIPPED) so they can be re-attempted once the cause is addressed, per spec.md §7.
func (d *Driver) failStage(job *models.Job, stage models.Stage, err error) {
	rec := job.StageRecord(stage)
	if rec.StartedAt == nil {
		now := time.Now()
		rec.StartedAt = &now
	}
	now := time.Now()
	rec.FinishedAt = &now
	rec.Status = models.StatusFailed
	rec.Error = err.Error()
}

// Cancel marks the job's currently RUNNING stage FAILED with cause Cancelled — a distinct
// terminal state that is never retried automatically.
func Cancel(job *models.Job) {
	for _, s := range models.Stages {
		rec := job.StageRecord(s)
		if rec.Status == models.StatusRunning {
			now := time.Now()
			rec.FinishedAt = &now
			rec.Status = models.StatusFailed
			rec.Error = ErrCancelled.Error()
		}
	}
}
