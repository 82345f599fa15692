package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
	"github.com/jfima/amanu/internal/providers"
	"github.com/jfima/amanu/internal/templates"
	"github.com/jfima/amanu/pkg/logger"
)

// Refine assembles the job's schema from its configured artifacts' templates, sends either
// the cleaned transcript text or the raw audio handle to the configured refinement provider,
// and persists enriched_context.json. Text cleaning happens here, not in GENERATE, per the
// resolution recorded in DESIGN.md.
type Refine struct {
	Registry  *providers.Registry
	Templates *templates.Registry
}

func (r *Refine) Stage() models.Stage { return models.StageRefine }

func (r *Refine) ValidatePrerequisites(job *models.Job) error {
	_, err := r.loadInput(job)
	return err
}

func (r *Refine) Execute(ctx context.Context, job *models.Job) error {
	start := time.Now()

	input, err := r.loadInput(job)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageRefine, Cause: err}
	}
	lang := job.Meta.Configuration.Language
	if input.Direct && (lang == "" || lang == "auto") {
		logger.Warn("direct-mode refine has no explicit language hint, proceeding anyway", "job_id", job.ID)
	}

	schema, err := r.Templates.AssembleSchema(job.Meta.Configuration.Artifacts)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageRefine, Cause: err}
	}

	providerName := job.Meta.Configuration.RefineProvider
	rp, err := r.Registry.Refiner(providerName)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageRefine, Provider: providerName, Cause: err}
	}

	enriched, usage, err := rp.Refine(ctx, input, schema, job.Meta.Configuration.Language)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageRefine, Provider: providerName, Model: job.Meta.Configuration.RefineModel, Cause: err}
	}
	usage.Stage = models.StageRefine

	if err := jobstore.WriteArtifact(filepath.Join(job.Dir, jobstore.FileEnrichedContext), enriched); err != nil {
		return &pipeline.StageError{Stage: models.StageRefine, Cause: err}
	}

	job.AddUsage(usage)
	finish := time.Now()
	_ = jobstore.WriteStageDetail(job.Dir, models.StageDetail{
		Stage:      models.StageRefine,
		StartedAt:  start,
		FinishedAt: finish,
		Usage:      &usage,
	})
	return nil
}

// loadInput resolves REFINE's input: the cleaned transcript text if raw_transcript.json
// exists (including the SCRIBE-skipped direct-mode case falling back to the ingested audio
// handle), erroring with ErrMissingRefineInput if neither is available.
func (r *Refine) loadInput(job *models.Job) (providers.RefineInput, error) {
	transcriptPath := filepath.Join(job.Dir, jobstore.FileRawTranscript)
	if _, err := os.Stat(transcriptPath); err == nil {
		var segments []models.TranscriptSegment
		if err := jobstore.ReadArtifact(transcriptPath, &segments); err != nil {
			return providers.RefineInput{}, pipeline.ErrMissingRefineInput
		}
		return providers.RefineInput{TextTranscript: cleanTranscript(segments)}, nil
	}

	var ingest models.IngestResult
	ingestPath := filepath.Join(job.Dir, jobstore.FileIngest)
	if err := jobstore.ReadArtifact(ingestPath, &ingest); err != nil {
		return providers.RefineInput{}, pipeline.ErrMissingRefineInput
	}
	handle := ingest.UpstreamCacheHandle
	if handle == "" {
		handle = ingest.WorkingCopyPath
	}
	return providers.RefineInput{AudioHandle: handle, Direct: true}, nil
}

// cleanTranscript joins segment text into a single speaker-labeled transcript, trimming
// incidental whitespace, matching the teacher's TextPostprocessor.ProcessTranscript trimming.
func cleanTranscript(segments []models.TranscriptSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.SpeakerID != "" {
			b.WriteString(seg.SpeakerID)
			b.WriteString(": ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
