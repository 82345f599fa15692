// Package jobstore persists per-job state and metadata on the filesystem, one directory per
// job, with atomic writes for state.json and meta.json.
package jobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/pkg/logger"
)

// Dirs are the per-job subdirectories the store creates and that stage executors write into.
const (
	DirMedia       = "media"
	DirTranscripts = "transcripts"
	DirArtifacts   = "artifacts"
	DirStages      = "_stages"
	DirTrash       = "_stages/trash"
	FileState      = "state.json"
	FileMeta       = "meta.json"
	FileIngest     = "ingest.json"
	FileRawTranscript = "raw_transcript.json"
	FileEnrichedContext = "enriched_context.json"
)

// Store is the job store contract described in spec.md §4.1.
type Store interface {
	Create(source string, cfg models.Configuration) (*models.Job, error)
	Load(jobID string) (*models.Job, error)
	List(filter Filter) ([]*models.Job, error)
	Save(job *models.Job) error
	Delete(job *models.Job) error
	Latest(filter Filter) (*models.Job, error)
	Dir(jobID string) string
}

// Filter narrows List/Latest queries.
type Filter struct {
	Status JobStatusFilter
	Since  time.Time
}

// JobStatusFilter optionally restricts results to one lifecycle status.
type JobStatusFilter string

const AnyStatus JobStatusFilter = ""

// FSStore is the filesystem-backed implementation of Store.
type FSStore struct {
	workRoot string
}

// New creates a filesystem job store rooted at workRoot.
func New(workRoot string) *FSStore {
	return &FSStore{workRoot: workRoot}
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name, strips its extension, and collapses every run of non-alphanumeric
// characters into a single hyphen, trimmed at both ends and capped at 40 characters. Used both
// to derive a job id's source-name suffix and, by SHELVE, to render artifact filenames.
func Slugify(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	s := slugInvalid.ReplaceAllString(strings.ToLower(base), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "job"
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

// NewJobID builds a chronologically-sortable job id: YY-MMDD-HHMMSS_<slug>.
func NewJobID(now time.Time, source string) string {
	return fmt.Sprintf("%s_%s", now.Format("06-0102-150405"), Slugify(source))
}

// Dir returns the working directory path for a job id.
func (s *FSStore) Dir(jobID string) string {
	return filepath.Join(s.workRoot, jobID)
}

// Create allocates a new job directory, writes the initial state/meta, and returns the handle.
func (s *FSStore) Create(source string, cfg models.Configuration) (*models.Job, error) {
	now := time.Now()
	id := NewJobID(now, source)
	dir := s.Dir(id)
	if _, err := os.Stat(dir); err == nil {
		// Extremely unlikely id collision within the same second; disambiguate.
		id = id + "-2"
		dir = s.Dir(id)
	}

	for _, sub := range []string{DirMedia, DirTranscripts, DirArtifacts, DirStages} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create job dir %s: %w", sub, err)
		}
	}

	job := &models.Job{
		ID:    id,
		Dir:   dir,
		State: models.NewState(now),
		Meta: &models.Meta{
			JobID:         id,
			Source:        source,
			Configuration: cfg,
		},
	}

	if err := s.Save(job); err != nil {
		return nil, err
	}
	logger.Info("Job created", "job_id", id, "source", source)
	return job, nil
}

// Save atomically persists state.json and meta.json.
func (s *FSStore) Save(job *models.Job) error {
	job.RecomputeLifecycle()
	job.State.UpdatedAt = time.Now()

	total := models.ProcessingTotals{}
	for _, st := range models.Stages {
		if job.State.Stages[st] != nil && job.State.Stages[st].Status == models.StatusCompleted {
			total.StagesCompleted = append(total.StagesCompleted, st)
		}
	}
	job.Meta.Processing.StagesCompleted = total.StagesCompleted

	if err := writeJSONAtomic(filepath.Join(job.Dir, FileState), job.State); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(job.Dir, FileMeta), job.Meta); err != nil {
		return err
	}
	return nil
}

// Load reads a job back from disk. If state.json is corrupt, it is reconstructed from
// _stages/*.json; if that also fails, the job is reported FAILED rather than erroring out.
func (s *FSStore) Load(jobID string) (*models.Job, error) {
	dir := s.Dir(jobID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	job := &models.Job{ID: jobID, Dir: dir}

	var state models.State
	stateErr := readJSONRetry(filepath.Join(dir, FileState), &state)
	if stateErr != nil {
		logger.Warn("state.json unreadable, reconstructing from stage detail", "job_id", jobID, "error", stateErr)
		state = *reconstructState(dir)
	}
	job.State = &state

	var meta models.Meta
	if err := readJSONRetry(filepath.Join(dir, FileMeta), &meta); err != nil {
		meta = models.Meta{JobID: jobID}
	}
	job.Meta = &meta

	return job, nil
}

// reconstructState rebuilds a best-effort state.json from per-stage detail files, marking the
// job FAILED if even that is unavailable (spec.md §4.1: "otherwise the job is reported as
// FAILED").
func reconstructState(dir string) *models.State {
	state := models.NewState(time.Now())
	any := false
	for _, st := range models.Stages {
		var detail models.StageDetail
		path := filepath.Join(dir, DirStages, string(st)+".json")
		if err := readJSONRetry(path, &detail); err != nil {
			continue
		}
		any = true
		rec := state.Stages[st]
		if detail.Error != "" {
			rec.Status = models.StatusFailed
			rec.Error = detail.Error
		} else {
			rec.Status = models.StatusCompleted
		}
		started := detail.StartedAt
		finished := detail.FinishedAt
		rec.StartedAt = &started
		rec.FinishedAt = &finished
	}
	if !any {
		state.Status = models.LifecycleFailed
	}
	return state
}

// List enumerates jobs under the working root matching filter.
func (s *FSStore) List(filter Filter) ([]*models.Job, error) {
	entries, err := os.ReadDir(s.workRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var jobs []*models.Job
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		job, err := s.Load(e.Name())
		if err != nil {
			continue
		}
		if filter.Status != AnyStatus && string(job.State.Status) != string(filter.Status) {
			continue
		}
		if !filter.Since.IsZero() && job.State.UpdatedAt.Before(filter.Since) {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// Latest returns the most recently updated job matching filter, or nil if none match.
func (s *FSStore) Latest(filter Filter) (*models.Job, error) {
	jobs, err := s.List(filter)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	best := jobs[0]
	for _, j := range jobs[1:] {
		if j.State.UpdatedAt.After(best.State.UpdatedAt) {
			best = j
		}
	}
	return best, nil
}

// Delete removes a job's entire working directory.
func (s *FSStore) Delete(job *models.Job) error {
	logger.Info("Deleting job", "job_id", job.ID)
	return os.RemoveAll(job.Dir)
}

// Stats walks the working root and sums usage totals, the fallback path used by `report` when
// the derived SQLite index is absent or stale.
func (s *FSStore) Stats(since time.Time) (models.ProcessingTotals, error) {
	jobs, err := s.List(Filter{Since: since})
	if err != nil {
		return models.ProcessingTotals{}, err
	}
	var total models.ProcessingTotals
	for _, j := range jobs {
		total.TotalTokens += j.Meta.Processing.TotalTokens
		total.TotalCostUSD += j.Meta.Processing.TotalCostUSD
		total.TotalTimeSeconds += j.Meta.Processing.TotalTimeSeconds
		total.RequestCount += j.Meta.Processing.RequestCount
	}
	return total, nil
}

// Finalize applies the post-SHELVE pruning policy: when the job is not in debug mode, heavy
// working-directory content (media/, transcripts/, artifacts/) is removed now that it has been
// copied to the results directory, while state.json, meta.json, and _stages/ are always kept.
func Finalize(job *models.Job) error {
	if job.Meta.Configuration.Debug {
		return nil
	}
	for _, dir := range []string{DirMedia, DirTranscripts, DirArtifacts} {
		if err := os.RemoveAll(filepath.Join(job.Dir, dir)); err != nil {
			return fmt.Errorf("prune %s: %w", dir, err)
		}
	}
	logger.Info("Job finalized", "job_id", job.ID)
	return nil
}

// WriteStageDetail persists one stage's request/response/usage detail to
// _stages/<stage>.json, the record reconstructState falls back to when state.json is corrupt.
func WriteStageDetail(jobDir string, detail models.StageDetail) error {
	path := filepath.Join(jobDir, DirStages, string(detail.Stage)+".json")
	return writeJSONAtomic(path, detail)
}

// TrashArtifacts moves the contents of a stage's output locations into
// _stages/trash/<timestamp>/ instead of deleting them, used when debug mode is set during a
// destructive re-run.
func TrashArtifacts(jobDir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	trashDir := filepath.Join(jobDir, DirTrash, time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(trashDir, 0755); err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		dest := filepath.Join(trashDir, filepath.Base(p))
		if err := os.Rename(p, dest); err != nil {
			return fmt.Errorf("trash %s: %w", p, err)
		}
	}
	return nil
}
