package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
)

// defaultArtifactFilenamePattern renders an artifact's shelved name from {id, slug, date,
// title} when a job's shelve_mode doesn't preserve the artifact's original filename.
const defaultArtifactFilenamePattern = "{date}-{id}-{title}"

// inboxSubdirectory is where flat/zettelkasten route a job whose enriched context matches none
// of Shelve's routing rules.
const inboxSubdirectory = "Inbox"

// RoutingRule maps one enriched-context field/value pair to a results subdirectory. Tested in
// order; the first match wins.
type RoutingRule struct {
	Tag          string
	Value        string
	Subdirectory string
}

// Shelve copies every rendered artifact into the results directory, laid out according to the
// job's shelve_mode:
//   - timeline: <results>/<YYYY>/<MM>/<DD>/<job-id>/, artifacts keep their rendered filenames.
//   - flat: <results>/<routed-or-Inbox>/, each artifact renamed via FilenamePattern.
//   - zettelkasten: <results>/<routed-or-Inbox>/<first-two-id-chars>/, same renaming.
//
// flat and zettelkasten both place artifacts directly under the results root rather than
// nesting a per-job directory; Routing and FilenamePattern are the "routing interface"
// spec.md scopes these modes down to, not a full configurable placement policy.
type Shelve struct {
	ResultsDir      string
	FilenamePattern string
	Routing         []RoutingRule
}

func (s *Shelve) Stage() models.Stage { return models.StageShelve }

func (s *Shelve) ValidatePrerequisites(job *models.Job) error {
	entries, err := os.ReadDir(filepath.Join(job.Dir, jobstore.DirArtifacts))
	if err != nil || len(entries) == 0 {
		return &pipeline.PrerequisiteError{Stage: models.StageShelve, Cause: pipeline.ErrNoArtifacts, Hint: "run the generate stage first"}
	}
	return nil
}

func (s *Shelve) Execute(ctx context.Context, job *models.Job) error {
	start := time.Now()

	mode := job.Meta.Configuration.ShelveMode
	if mode == "" {
		mode = "flat"
	}
	if mode != "timeline" && mode != "flat" && mode != "zettelkasten" {
		return &pipeline.StageError{Stage: models.StageShelve, Cause: fmt.Errorf("unknown shelve_mode %q", mode)}
	}

	var enriched models.EnrichedContext
	_ = jobstore.ReadArtifact(filepath.Join(job.Dir, jobstore.FileEnrichedContext), &enriched)

	srcDir := filepath.Join(job.Dir, jobstore.DirArtifacts)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return &pipeline.StageError{Stage: models.StageShelve, Cause: err}
	}

	var shelved []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(srcDir, e.Name()))
		if err != nil {
			return &pipeline.StageError{Stage: models.StageShelve, Cause: err}
		}

		outPath, err := s.destination(job, mode, enriched, e.Name())
		if err != nil {
			return &pipeline.StageError{Stage: models.StageShelve, Cause: err}
		}
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return &pipeline.StageError{Stage: models.StageShelve, Cause: err}
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return &pipeline.StageError{Stage: models.StageShelve, Cause: err}
		}
		shelved = append(shelved, outPath)
	}

	finish := time.Now()
	_ = jobstore.WriteStageDetail(job.Dir, models.StageDetail{
		Stage:      models.StageShelve,
		StartedAt:  start,
		FinishedAt: finish,
		Response:   shelved,
	})
	return nil
}

// destination returns the full shelved path for one artifact named originalName.
func (s *Shelve) destination(job *models.Job, mode string, enriched models.EnrichedContext, originalName string) (string, error) {
	if mode == "timeline" {
		created := job.State.CreatedAt
		dir := filepath.Join(s.ResultsDir, created.Format("2006"), created.Format("01"), created.Format("02"), job.ID)
		return filepath.Join(dir, originalName), nil
	}

	dir := filepath.Join(s.ResultsDir, s.route(enriched))
	if mode == "zettelkasten" {
		bucket := job.ID
		if len(bucket) > 2 {
			bucket = bucket[:2]
		}
		dir = filepath.Join(dir, bucket)
	}
	return filepath.Join(dir, s.renamedFilename(job, enriched, originalName)), nil
}

// route maps enriched's tags through Routing, falling back to Inbox for a job matching none of
// them (or carrying no enriched context at all, e.g. a direct-mode job with no custom fields).
func (s *Shelve) route(enriched models.EnrichedContext) string {
	for _, rule := range s.Routing {
		v, ok := enriched[rule.Tag]
		if !ok {
			continue
		}
		if sv, ok := v.(string); ok && sv == rule.Value {
			return rule.Subdirectory
		}
	}
	return inboxSubdirectory
}

// renamedFilename renders FilenamePattern (or the default) against {id, slug, date, title},
// keeping originalName's extension.
func (s *Shelve) renamedFilename(job *models.Job, enriched models.EnrichedContext, originalName string) string {
	pattern := s.FilenamePattern
	if pattern == "" {
		pattern = defaultArtifactFilenamePattern
	}
	ext := filepath.Ext(originalName)
	replacer := strings.NewReplacer(
		"{id}", job.ID,
		"{slug}", jobstore.Slugify(job.ID),
		"{date}", job.State.CreatedAt.Format("2006-01-02"),
		"{title}", artifactTitle(enriched, originalName),
	)
	name := replacer.Replace(pattern)
	if !strings.HasSuffix(name, ext) {
		name += ext
	}
	return name
}

// artifactTitle prefers the enriched context's "title" field, falling back to the artifact's
// own base name (e.g. "summary" from "summary.md") when no title was extracted.
func artifactTitle(enriched models.EnrichedContext, originalName string) string {
	if v, ok := enriched["title"]; ok {
		if sv, ok := v.(string); ok && sv != "" {
			return jobstore.Slugify(sv)
		}
	}
	return jobstore.Slugify(originalName)
}
