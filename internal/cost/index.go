// Package cost implements the job directory's usage accounting mirror: a derived, rebuildable
// SQLite index for fast fleet-wide cost/time aggregation, grounded on the teacher's
// internal/database/database.go (glebarez/sqlite DSN pragma tuning, gorm.AutoMigrate), narrowed
// from the full job-row schema to a single usage_records table since the job directory itself
// remains the source of truth (spec.md §3 invariant 5).
package cost

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
)

// UsageRow mirrors one models.UsageRecord into a queryable SQLite row, tagged with the job it
// belongs to so the index can be rebuilt idempotently from the filesystem.
type UsageRow struct {
	ID           uint `gorm:"primarykey"`
	JobID        string `gorm:"index"`
	Stage        string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	DurationSeconds float64
	RequestCount int
	RecordedAt   time.Time `gorm:"index"`
}

// Index is the derived report database. It is safe to delete the backing file at any time;
// Rebuild repopulates it from the job store.
type Index struct {
	db *gorm.DB
}

// Open connects to (or creates) the SQLite index file at path, applying the same
// concurrency-friendly pragmas the teacher's database package uses.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create report index dir: %w", err)
	}
	dsn := fmt.Sprintf("%s?"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_pragma=cache_size(-16000)&"+
		"_timeout=30000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open report index: %w", err)
	}
	if err := db.AutoMigrate(&UsageRow{}); err != nil {
		return nil, fmt.Errorf("migrate report index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying SQLite connection.
func (idx *Index) Close() error {
	sqlDB, err := idx.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordJob replaces job's usage rows in the index with freshly read _stages/*.json detail,
// called after every Save so the index never drifts from the filesystem's source of truth.
func (idx *Index) RecordJob(job *models.Job) error {
	if err := idx.db.Where("job_id = ?", job.ID).Delete(&UsageRow{}).Error; err != nil {
		return err
	}
	var rows []UsageRow
	for _, stage := range models.Stages {
		var detail models.StageDetail
		path := filepath.Join(job.Dir, jobstore.DirStages, string(stage)+".json")
		if err := jobstore.ReadArtifact(path, &detail); err != nil || detail.Usage == nil {
			continue
		}
		u := detail.Usage
		rows = append(rows, UsageRow{
			JobID:           job.ID,
			Stage:           string(u.Stage),
			Provider:        u.Provider,
			Model:           u.Model,
			InputTokens:     u.InputTokens,
			OutputTokens:    u.OutputTokens,
			CostUSD:         u.CostUSD,
			DurationSeconds: u.DurationSeconds,
			RequestCount:    u.RequestCount,
			RecordedAt:      detail.FinishedAt,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return idx.db.Create(&rows).Error
}

// Rebuild truncates the index and re-derives it from every job in store, used by `amanu report
// --rebuild` after the index file is lost or suspected stale.
func (idx *Index) Rebuild(store *jobstore.FSStore) error {
	if err := idx.db.Exec("DELETE FROM usage_rows").Error; err != nil {
		return err
	}
	jobs, err := store.List(jobstore.Filter{})
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := idx.RecordJob(job); err != nil {
			return fmt.Errorf("rebuild job %s: %w", job.ID, err)
		}
	}
	return nil
}

// Totals aggregates cost/tokens/time since the given time across every indexed job, optionally
// filtered by provider.
type Totals struct {
	TotalTokens      int
	TotalCostUSD     float64
	TotalTimeSeconds float64
	RequestCount     int
	JobCount         int
}

// Report runs the fleet-wide aggregation query the filesystem-walking Stats fallback also
// answers, but in one SQL scan instead of opening every job's files.
func (idx *Index) Report(since time.Time, provider string) (Totals, error) {
	q := idx.db.Model(&UsageRow{})
	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since)
	}
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}

	var totals Totals
	row := struct {
		Tokens   int
		Cost     float64
		Time     float64
		Requests int
		Jobs     int
	}{}
	if err := q.Select(
		"COALESCE(SUM(input_tokens+output_tokens),0) as tokens",
		"COALESCE(SUM(cost_usd),0) as cost",
		"COALESCE(SUM(duration_seconds),0) as time",
		"COALESCE(SUM(request_count),0) as requests",
		"COUNT(DISTINCT job_id) as jobs",
	).Scan(&row).Error; err != nil {
		return Totals{}, err
	}
	totals.TotalTokens = row.Tokens
	totals.TotalCostUSD = row.Cost
	totals.TotalTimeSeconds = row.Time
	totals.RequestCount = row.Requests
	totals.JobCount = row.Jobs
	return totals, nil
}
