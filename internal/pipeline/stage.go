package pipeline

import (
	"context"

	"github.com/jfima/amanu/internal/models"
)

// Executor is one pipeline stage: a pure function over (Job, external services) with side
// effects confined to the job directory and whatever provider calls it makes.
type Executor interface {
	Stage() models.Stage
	// ValidatePrerequisites returns a *PrerequisiteError if the stage cannot start yet.
	ValidatePrerequisites(job *models.Job) error
	// Execute runs the stage. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, job *models.Job) error
}

// Skippable is an optional capability an Executor implements when its stage can be bypassed
// entirely by job configuration (e.g. --skip-transcript). The driver checks this ahead of
// marking the stage RUNNING, so a skipped stage never runs Execute and lands on SKIPPED
// instead of COMPLETED.
type Skippable interface {
	ShouldSkip(job *models.Job) (bool, string)
}
