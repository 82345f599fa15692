// Package models defines the on-disk data model shared by the job store, the pipeline
// driver, the stage executors, and the reporting layer.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies one of the five ordered pipeline stages.
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageScribe   Stage = "scribe"
	StageRefine   Stage = "refine"
	StageGenerate Stage = "generate"
	StageShelve   Stage = "shelve"
)

// Stages lists the five stages in execution order.
var Stages = []Stage{StageIngest, StageScribe, StageRefine, StageGenerate, StageShelve}

// Index returns the stage's position in the fixed pipeline order, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// StageStatus is the lifecycle state of a single stage within a job.
type StageStatus string

const (
	StatusPending   StageStatus = "PENDING"
	StatusRunning   StageStatus = "RUNNING"
	StatusCompleted StageStatus = "COMPLETED"
	StatusFailed    StageStatus = "FAILED"
	StatusSkipped   StageStatus = "SKIPPED"
)

// JobLifecycle is the job's overall status, derived from its stage statuses.
type JobLifecycle string

const (
	LifecycleCreated   JobLifecycle = "CREATED"
	LifecycleRunning   JobLifecycle = "RUNNING"
	LifecycleCompleted JobLifecycle = "COMPLETED"
	LifecycleFailed    JobLifecycle = "FAILED"
)

// StageRecord is the per-stage entry in state.json.
type StageRecord struct {
	Status     StageStatus `json:"status"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// State is the content of state.json.
type State struct {
	Status    JobLifecycle           `json:"status"`
	Stages    map[Stage]*StageRecord `json:"stages"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewState builds a fresh state with every stage PENDING.
func NewState(now time.Time) *State {
	stages := make(map[Stage]*StageRecord, len(Stages))
	for _, s := range Stages {
		stages[s] = &StageRecord{Status: StatusPending}
	}
	return &State{
		Status:    LifecycleCreated,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Artifact describes one configured output of the GENERATE stage.
type Artifact struct {
	Plugin           string `json:"plugin" yaml:"plugin"`
	Template         string `json:"template" yaml:"template"`
	FilenameOverride string `json:"filename_override,omitempty" yaml:"filename_override,omitempty"`
}

// ParseArtifactSpec parses the "plugin/template[:filename]" shorthand used by the --artifact
// flag and the DEFAULT_ARTIFACTS config var into an Artifact.
func ParseArtifactSpec(spec string) (Artifact, error) {
	body, filename, _ := strings.Cut(spec, ":")
	plugin, template, ok := strings.Cut(body, "/")
	if !ok || plugin == "" || template == "" {
		return Artifact{}, fmt.Errorf("artifact spec %q must be in the form plugin/template[:filename]", spec)
	}
	return Artifact{Plugin: plugin, Template: template, FilenameOverride: filename}, nil
}

// Configuration is the immutable snapshot of processing choices frozen at job creation.
type Configuration struct {
	TranscribeProvider string     `json:"transcribe_provider"`
	TranscribeModel    string     `json:"transcribe_model"`
	RefineProvider     string     `json:"refine_provider"`
	RefineModel        string     `json:"refine_model"`
	CompressionMode    string     `json:"compression_mode"` // original | compressed | optimized
	Language           string     `json:"language"`          // "auto" or an explicit hint
	Artifacts          []Artifact `json:"artifacts"`
	ShelveMode         string     `json:"shelve_mode"` // timeline | flat | zettelkasten
	SkipTranscript     bool       `json:"skip_transcript"`
	Debug              bool       `json:"debug"`
}

// ProcessingTotals summarizes usage across every stage of a job.
type ProcessingTotals struct {
	TotalTokens      int      `json:"total_tokens"`
	TotalCostUSD     float64  `json:"total_cost_usd"`
	TotalTimeSeconds float64  `json:"total_time_seconds"`
	RequestCount     int      `json:"request_count"`
	StagesCompleted  []Stage  `json:"stages_completed"`
}

// Meta is the content of meta.json.
type Meta struct {
	JobID         string            `json:"job_id"`
	Source        string            `json:"source"`
	Configuration Configuration     `json:"configuration"`
	Processing    ProcessingTotals  `json:"processing"`
}

// Job is the in-memory handle the driver and stage executors operate on. It owns exactly one
// working directory until finalization.
type Job struct {
	ID      string
	Dir     string
	State   *State
	Meta    *Meta
}

// StageRecord returns the record for a given stage, creating one if it doesn't exist yet
// (defensive against a state.json reconstructed from partial _stages/ detail).
func (j *Job) StageRecord(s Stage) *StageRecord {
	if j.State.Stages == nil {
		j.State.Stages = map[Stage]*StageRecord{}
	}
	rec, ok := j.State.Stages[s]
	if !ok {
		rec = &StageRecord{Status: StatusPending}
		j.State.Stages[s] = rec
	}
	return rec
}

// AllEarlierCompletedOrSkipped reports whether every stage before s is COMPLETED or SKIPPED,
// the prerequisite for s entering RUNNING (spec invariant: a stage may run only if every
// earlier stage is COMPLETED or SKIPPED).
func (j *Job) AllEarlierCompletedOrSkipped(s Stage) bool {
	idx := s.Index()
	for i := 0; i < idx; i++ {
		rec := j.StageRecord(Stages[i])
		if rec.Status != StatusCompleted && rec.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// ResetFrom resets stage s and every later stage to PENDING, clearing timestamps and errors.
// This implements the driver's destructive re-execution semantics.
func (j *Job) ResetFrom(s Stage) {
	idx := s.Index()
	if idx < 0 {
		return
	}
	for i := idx; i < len(Stages); i++ {
		rec := j.StageRecord(Stages[i])
		rec.Status = StatusPending
		rec.StartedAt = nil
		rec.FinishedAt = nil
		rec.Error = ""
	}
}

// FirstIncompleteStage returns the earliest stage that is not COMPLETED, or "" if every stage
// is COMPLETED. Used by `jobs retry` to default --from-stage.
func (j *Job) FirstIncompleteStage() Stage {
	for _, s := range Stages {
		if j.StageRecord(s).Status != StatusCompleted {
			return s
		}
	}
	return ""
}

// AddUsage folds one call's UsageRecord into the job's running totals, maintaining the
// invariant that meta.json's processing totals equal the sum of every per-stage UsageRecord.
func (j *Job) AddUsage(rec UsageRecord) {
	j.Meta.Processing.TotalTokens += rec.InputTokens + rec.OutputTokens
	j.Meta.Processing.TotalCostUSD += rec.CostUSD
	j.Meta.Processing.TotalTimeSeconds += rec.DurationSeconds
	j.Meta.Processing.RequestCount += rec.RequestCount
}

// RecomputeLifecycle derives the overall job status from its stage statuses.
func (j *Job) RecomputeLifecycle() {
	anyFailed := false
	anyRunning := false
	allTerminal := true
	for _, s := range Stages {
		rec := j.StageRecord(s)
		switch rec.Status {
		case StatusFailed:
			anyFailed = true
		case StatusRunning:
			anyRunning = true
		case StatusPending:
			allTerminal = false
		}
	}
	switch {
	case anyFailed:
		j.State.Status = LifecycleFailed
	case anyRunning:
		j.State.Status = LifecycleRunning
	case allTerminal:
		j.State.Status = LifecycleCompleted
	default:
		j.State.Status = LifecycleRunning
	}
}
