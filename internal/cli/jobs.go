package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline/stages"
	"github.com/jfima/amanu/internal/systeminfo"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage job working directories",
}

var (
	jobsListStatus string
	jobsListSince  string
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Enumerate jobs in the working root",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		filter := jobstore.Filter{Status: jobstore.JobStatusFilter(jobsListStatus)}
		if jobsListSince != "" {
			since, err := time.Parse("2006-01-02", jobsListSince)
			if err != nil {
				return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
			}
			filter.Since = since
		}
		jobs, err := a.store.List(filter)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			fmt.Printf("%-32s %-10s %s\n", j.ID, j.State.Status, j.Meta.Source)
		}
		return nil
	},
}

var jobsShowVerbose bool

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a job's full state and usage totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		job, err := a.store.Load(args[0])
		if err != nil {
			return err
		}
		printJobSummary(job)
		fmt.Printf("  tokens=%d cost_usd=%.4f time_s=%.1f requests=%d\n",
			job.Meta.Processing.TotalTokens, job.Meta.Processing.TotalCostUSD,
			job.Meta.Processing.TotalTimeSeconds, job.Meta.Processing.RequestCount)
		if jobsShowVerbose {
			if total, err := systeminfo.TotalMemoryBytes(); err == nil {
				fmt.Printf("  host_total_memory_mb=%d\n", total/(1024*1024))
			}
		}
		return nil
	},
}

var jobsRetryFromStage string

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Reset a job from its first non-COMPLETED stage (or --from-stage) and re-run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		job, err := a.store.Load(args[0])
		if err != nil {
			return err
		}
		fromStage, err := parseStage(jobsRetryFromStage, "")
		if err != nil {
			return err
		}
		if err := a.driver.Retry(context.Background(), job, fromStage, ""); err != nil {
			return err
		}
		a.recordUsage(job)
		printJobSummary(job)
		return nil
	},
}

var (
	jobsCleanupOlderThan int
	jobsCleanupStatus    string
)

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete jobs older than their configured retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		olderThan := jobsCleanupOlderThan
		jobs, err := a.store.List(jobstore.Filter{Status: jobstore.JobStatusFilter(jobsCleanupStatus)})
		if err != nil {
			return err
		}
		now := time.Now()
		deleted := 0
		for _, j := range jobs {
			retentionDays := retentionDaysFor(a, j)
			if olderThan > 0 {
				retentionDays = olderThan
			}
			if retentionDays <= 0 {
				continue
			}
			if !isTerminal(j) {
				continue
			}
			age := now.Sub(j.State.UpdatedAt)
			if age < time.Duration(retentionDays)*24*time.Hour {
				continue
			}
			if err := a.store.Delete(j); err != nil {
				fmt.Printf("failed to delete %s: %v\n", j.ID, err)
				continue
			}
			deleted++
		}
		fmt.Printf("deleted %d job(s)\n", deleted)
		return nil
	},
}

// retentionDaysFor returns the retention window that applies to job j's terminal status.
func retentionDaysFor(a *app, j *models.Job) int {
	switch j.State.Status {
	case models.LifecycleFailed:
		return a.cfg.FailedJobsRetentionDays
	case models.LifecycleCompleted:
		return a.cfg.CompletedJobsRetentionDays
	default:
		return 0
	}
}

// isTerminal reports whether j's lifecycle status will never change without user action,
// the cleanup command's safety condition for concurrent operation with active drivers.
func isTerminal(j *models.Job) bool {
	return j.State.Status == models.LifecycleFailed || j.State.Status == models.LifecycleCompleted
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a job's working directory unconditionally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		job, err := a.store.Load(args[0])
		if err != nil {
			return err
		}
		return a.store.Delete(job)
	},
}

var jobsFinalizeCmd = &cobra.Command{
	Use:   "finalize <id>",
	Short: "Copy a SHELVE-completed job's artifacts to the results directory and prune",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		job, err := a.store.Load(args[0])
		if err != nil {
			return err
		}
		if job.StageRecord(models.StageShelve).Status != models.StatusCompleted {
			return fmt.Errorf("job %s: shelve stage is not COMPLETED, run 'amanu shelve %s' first", job.ID, job.ID)
		}
		shelve := &stages.Shelve{ResultsDir: a.cfg.ResultsDir}
		if err := shelve.Execute(context.Background(), job); err != nil {
			return err
		}
		if err := jobstore.Finalize(job); err != nil {
			return err
		}
		fmt.Printf("job %s finalized\n", job.ID)
		return nil
	},
}

func init() {
	jobsShowCmd.Flags().BoolVar(&jobsShowVerbose, "verbose", false, "also print host total memory")
	jobsListCmd.Flags().StringVar(&jobsListStatus, "status", "", "filter by lifecycle status")
	jobsListCmd.Flags().StringVar(&jobsListSince, "since", "", "only jobs updated on/after this date (YYYY-MM-DD)")
	jobsRetryCmd.Flags().StringVar(&jobsRetryFromStage, "from-stage", "", "stage to reset from (default: first non-COMPLETED stage)")
	jobsCleanupCmd.Flags().IntVar(&jobsCleanupOlderThan, "older-than", 0, "override configured retention window, in days")
	jobsCleanupCmd.Flags().StringVar(&jobsCleanupStatus, "status", "", "restrict to this lifecycle status")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsRetryCmd, jobsCleanupCmd, jobsDeleteCmd, jobsFinalizeCmd)
	rootCmd.AddCommand(jobsCmd)
}
