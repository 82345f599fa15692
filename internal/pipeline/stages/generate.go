package stages

import (
	"os"
	"path/filepath"
	"time"

	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
	"github.com/jfima/amanu/internal/plugins"
	"github.com/jfima/amanu/internal/templates"
)

// SkipReasonNoTranscriptForSubtitles is recorded against an artifact whose template declares
// requires_transcript but the job has no raw transcript (e.g. --skip-transcript/direct mode).
const SkipReasonNoTranscriptForSubtitles = "NoTranscriptForSubtitles"

// Generate renders every configured artifact by calling its plugin with the enriched context
// (and raw transcript, for templates that want it), writing each result under artifacts/.
// An artifact whose declared inputs aren't available is skipped rather than failing the stage.
type Generate struct {
	Plugins   *plugins.Registry
	Templates *templates.Registry
}

func (g *Generate) Stage() models.Stage { return models.StageGenerate }

func (g *Generate) ValidatePrerequisites(job *models.Job) error {
	path := filepath.Join(job.Dir, jobstore.FileEnrichedContext)
	if _, err := os.Stat(path); err != nil {
		return &pipeline.PrerequisiteError{Stage: models.StageGenerate, Cause: pipeline.ErrMissingContext, Hint: "run the refine stage first"}
	}
	if len(job.Meta.Configuration.Artifacts) == 0 {
		return &pipeline.PrerequisiteError{Stage: models.StageGenerate, Cause: pipeline.ErrNoArtifacts, Hint: "configure at least one artifact (plugin + template)"}
	}
	return nil
}

func (g *Generate) Execute(ctx context.Context, job *models.Job) error {
	start := time.Now()

	var enriched models.EnrichedContext
	if err := jobstore.ReadArtifact(filepath.Join(job.Dir, jobstore.FileEnrichedContext), &enriched); err != nil {
		return &pipeline.StageError{Stage: models.StageGenerate, Cause: pipeline.ErrMissingContext}
	}

	var rawTranscript []models.TranscriptSegment
	_ = jobstore.ReadArtifact(filepath.Join(job.Dir, jobstore.FileRawTranscript), &rawTranscript)

	artifactsDir := filepath.Join(job.Dir, jobstore.DirArtifacts)
	artifacts := job.Meta.Configuration.Artifacts
	rendered := make([]string, len(artifacts))
	var skipped []models.SkippedArtifact

	grp, _ := errgroup.WithContext(ctx)
	for i, a := range artifacts {
		tmpl, ok := g.Templates.Get(a.Template)
		if !ok {
			return &pipeline.StageError{Stage: models.StageGenerate, Cause: pipeline.ErrNoArtifacts}
		}
		if tmpl.RequiresTranscript && len(rawTranscript) == 0 {
			skipped = append(skipped, models.SkippedArtifact{Plugin: a.Plugin, Template: a.Template, Reason: SkipReasonNoTranscriptForSubtitles})
			continue
		}
		plugin, ok := g.Plugins.Get(a.Plugin)
		if !ok {
			return &pipeline.StageError{Stage: models.StageGenerate, Cause: pipeline.ErrNoArtifacts}
		}

		i, a, tmpl, plugin := i, a, tmpl, plugin
		grp.Go(func() error {
			data, filename, err := plugin.Render(tmpl, enriched, rawTranscript)
			if err != nil {
				return &pipeline.StageError{Stage: models.StageGenerate, Provider: a.Plugin, Cause: err}
			}
			if a.FilenameOverride != "" {
				filename = a.FilenameOverride
			}

			outPath := filepath.Join(artifactsDir, filename)
			if err := os.WriteFile(outPath, data, 0644); err != nil {
				return &pipeline.StageError{Stage: models.StageGenerate, Cause: err}
			}
			rendered[i] = filename
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	compact := rendered[:0]
	for _, f := range rendered {
		if f != "" {
			compact = append(compact, f)
		}
	}

	finish := time.Now()
	_ = jobstore.WriteStageDetail(job.Dir, models.StageDetail{
		Stage:      models.StageGenerate,
		StartedAt:  start,
		FinishedAt: finish,
		Response:   models.GenerateResult{Rendered: compact, Skipped: skipped},
	})
	return nil
}
