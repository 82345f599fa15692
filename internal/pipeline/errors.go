package pipeline

import (
	"errors"
	"fmt"

	"github.com/jfima/amanu/internal/models"
)

// Prerequisite errors (spec.md §4.2 policy table). The driver converts these into a stage
// transition to FAILED rather than propagating them as process-level errors when running
// inside the pipeline; invoked directly from the CLI they surface as user errors (exit 1).
var (
	ErrFileMissing      = errors.New("source file missing or empty")
	ErrFileEmpty        = errors.New("source file is empty")
	ErrMissingIngest    = errors.New("ingest.json missing or invalid")
	ErrMissingRefineInput = errors.New("neither raw_transcript.json nor a valid direct-mode ingest.json is available")
	ErrMissingContext   = errors.New("enriched_context.json missing")
	ErrNoArtifacts      = errors.New("no artifact files under artifacts/")
	ErrCancelled        = errors.New("cancelled")
	ErrSegmentOrdering  = errors.New("segment ordering violation: end_time < start_time")
	ErrTemplateSchemaConflict = errors.New("template schema conflict")
)

// StageError wraps a provider-layer failure with the context the driver needs to record it
// into state.json, per spec.md §7's propagation policy.
type StageError struct {
	Stage    models.Stage
	Provider string
	Model    string
	Cause    error
}

func (e *StageError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s: provider %s/%s: %v", e.Stage, e.Provider, e.Model, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// PrerequisiteError names the command that would produce the missing artifact, per the
// "actionable hint" requirement in spec.md §7.
type PrerequisiteError struct {
	Stage models.Stage
	Cause error
	Hint  string
}

func (e *PrerequisiteError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %v (hint: %s)", e.Stage, e.Cause, e.Hint)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
}

func (e *PrerequisiteError) Unwrap() error { return e.Cause }

// RetryableError marks a transient backend error (rate limiting, timeouts, 5xx) eligible for
// in-stage retry, distinguishing it from a permanent backend error that fails the stage
// immediately.
type RetryableError struct {
	Cause error
}

func (e *RetryableError) Error() string { return e.Cause.Error() }
func (e *RetryableError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err (or one it wraps) is a RetryableError.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}
