package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
	"github.com/jfima/amanu/internal/providers"
)

// Scribe runs the job's configured transcription provider over the ingested media and
// persists raw_transcript.json, draining the provider's segment channel until End or close
// (spec.md §9: never terminate by counting segments).
type Scribe struct {
	Registry   *providers.Registry
	RetryMax   int
	RetryDelay int
}

func (s *Scribe) Stage() models.Stage { return models.StageScribe }

// ShouldSkip honors the job's --skip-transcript configuration, letting direct-mode refinement
// proceed straight from ingest.json without a transcript artifact.
func (s *Scribe) ShouldSkip(job *models.Job) (bool, string) {
	if job.Meta.Configuration.SkipTranscript {
		return true, "skip_transcript configured"
	}
	return false, ""
}

func (s *Scribe) ValidatePrerequisites(job *models.Job) error {
	if job.Meta.Configuration.SkipTranscript {
		return nil
	}
	var ingest models.IngestResult
	path := filepath.Join(job.Dir, jobstore.FileIngest)
	if err := jobstore.ReadArtifact(path, &ingest); err != nil {
		return &pipeline.PrerequisiteError{Stage: models.StageScribe, Cause: pipeline.ErrMissingIngest, Hint: "run the ingest stage first"}
	}
	return nil
}

func (s *Scribe) Execute(ctx context.Context, job *models.Job) error {
	var ingest models.IngestResult
	if err := jobstore.ReadArtifact(filepath.Join(job.Dir, jobstore.FileIngest), &ingest); err != nil {
		return &pipeline.StageError{Stage: models.StageScribe, Cause: pipeline.ErrMissingIngest}
	}

	providerName := job.Meta.Configuration.TranscribeProvider
	tp, err := s.Registry.Transcriber(providerName)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageScribe, Provider: providerName, Cause: err}
	}

	start := time.Now()
	segCh, future, err := tp.Transcribe(ctx, ingest, job.Meta.Configuration.Language, providers.RetryPolicy{
		MaxAttempts:  s.RetryMax,
		DelaySeconds: s.RetryDelay,
	})
	if err != nil {
		return &pipeline.StageError{Stage: models.StageScribe, Provider: providerName, Cause: err}
	}

	var segments []models.TranscriptSegment
	var lastStart float64
	var haveLast bool
	for item := range segCh {
		if item.End {
			break
		}
		if item.Segment == nil {
			continue
		}
		if item.Segment.EndTime < item.Segment.StartTime {
			return &pipeline.StageError{Stage: models.StageScribe, Provider: providerName, Cause: pipeline.ErrSegmentOrdering}
		}
		if haveLast && item.Segment.StartTime < lastStart {
			return &pipeline.StageError{Stage: models.StageScribe, Provider: providerName, Cause: pipeline.ErrSegmentOrdering}
		}
		lastStart, haveLast = item.Segment.StartTime, true
		segments = append(segments, *item.Segment)
	}
	// Drain any remaining sends after End (providers must not send after End, but a channel
	// close without an explicit End is also a valid termination per spec.md §9).
	for range segCh {
	}

	usage, err := future.Wait(ctx)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageScribe, Provider: providerName, Model: job.Meta.Configuration.TranscribeModel, Cause: err}
	}
	usage.Stage = models.StageScribe

	if err := jobstore.WriteArtifact(filepath.Join(job.Dir, jobstore.FileRawTranscript), segments); err != nil {
		return &pipeline.StageError{Stage: models.StageScribe, Cause: err}
	}

	job.AddUsage(usage)
	finish := time.Now()
	_ = jobstore.WriteStageDetail(job.Dir, models.StageDetail{
		Stage:      models.StageScribe,
		StartedAt:  start,
		FinishedAt: finish,
		Usage:      &usage,
		Response:   fmt.Sprintf("%d segments", len(segments)),
	})
	return nil
}
