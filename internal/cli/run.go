package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
)

var runStopAfter string
var runSkipTranscript bool
var runCompressionMode string
var runModel string
var runShelveMode string
var runArtifacts []string

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Run the full pipeline over a source audio file, from INGEST through SHELVE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		stopAfter, err := parseStage(runStopAfter, models.StageShelve)
		if err != nil {
			return err
		}
		cfg := a.defaultConfiguration()
		if err := applyRunOverrides(&cfg); err != nil {
			return err
		}
		job, err := a.driver.Run(cmd.Context(), args[0], cfg, stopAfter)
		if job != nil {
			a.recordUsage(job)
			printJobSummary(job)
		}
		return err
	},
}

// applyRunOverrides layers the run/ingest command's flags onto a job's configuration
// snapshot, leaving fields whose flag was never set at their process-config default.
func applyRunOverrides(cfg *models.Configuration) error {
	if runSkipTranscript {
		cfg.SkipTranscript = true
	}
	if runCompressionMode != "" {
		cfg.CompressionMode = runCompressionMode
	}
	if runModel != "" {
		cfg.RefineModel = runModel
	}
	if runShelveMode != "" {
		cfg.ShelveMode = runShelveMode
	}
	if len(runArtifacts) > 0 {
		artifacts := make([]models.Artifact, 0, len(runArtifacts))
		for _, spec := range runArtifacts {
			artifact, err := models.ParseArtifactSpec(spec)
			if err != nil {
				return err
			}
			artifacts = append(artifacts, artifact)
		}
		cfg.Artifacts = artifacts
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runStopAfter, "stop-after", "", "stop after this stage (ingest|scribe|refine|generate|shelve)")
	runCmd.Flags().BoolVar(&runSkipTranscript, "skip-transcript", false, "skip SCRIBE, sending raw audio straight to the refinement provider's direct mode")
	runCmd.Flags().StringVar(&runCompressionMode, "compression-mode", "", "original|compressed|optimized")
	runCmd.Flags().StringVar(&runModel, "model", "", "override the default refinement model")
	runCmd.Flags().StringVar(&runShelveMode, "shelve-mode", "", "timeline|flat|zettelkasten")
	runCmd.Flags().StringArrayVar(&runArtifacts, "artifact", nil, "artifact to generate, as plugin/template[:filename] (repeatable)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newIngestCmd())
	for _, stage := range []models.Stage{models.StageScribe, models.StageRefine, models.StageGenerate, models.StageShelve} {
		rootCmd.AddCommand(newStageCmd(stage))
	}
}

// newIngestCmd builds `amanu ingest <source>`: creates a new job from source and runs it
// through (by default) the INGEST stage only, per spec.md's CLI table where ingest alone
// among the stage commands takes a source path rather than an existing job id.
func newIngestCmd() *cobra.Command {
	var stopAfter string
	cmd := &cobra.Command{
		Use:   "ingest <source>",
		Short: "Create a new job from source and run it through the ingest stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			stop, err := parseStage(stopAfter, models.StageIngest)
			if err != nil {
				return err
			}
			cfg := a.defaultConfiguration()
			if err := applyRunOverrides(&cfg); err != nil {
				return err
			}
			job, err := a.driver.Run(cmd.Context(), args[0], cfg, stop)
			if job != nil {
				a.recordUsage(job)
				printJobSummary(job)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&stopAfter, "stop-after", "", "stop after this stage (default: ingest)")
	cmd.Flags().StringVar(&runCompressionMode, "compression-mode", "", "original|compressed|optimized")
	cmd.Flags().BoolVar(&runSkipTranscript, "skip-transcript", false, "skip SCRIBE, sending raw audio straight to the refinement provider's direct mode")
	cmd.Flags().StringArrayVar(&runArtifacts, "artifact", nil, "artifact to generate, as plugin/template[:filename] (repeatable)")
	return cmd
}

// newStageCmd builds the scribe/refine/generate/shelve commands: continue an existing job,
// identified by an optional id argument that defaults to the most recently updated job.
func newStageCmd(stage models.Stage) *cobra.Command {
	var stopAfter string
	cmd := &cobra.Command{
		Use:   string(stage) + " [job-id]",
		Short: fmt.Sprintf("Continue a job from the %s stage (defaults to the latest job)", stage),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			job, err := resolveJob(a, args)
			if err != nil {
				return err
			}
			stop, err := parseStage(stopAfter, stage)
			if err != nil {
				return err
			}
			if err := a.driver.Continue(cmd.Context(), job, stage, stop); err != nil {
				return err
			}
			a.recordUsage(job)
			printJobSummary(job)
			return nil
		},
	}
	cmd.Flags().StringVar(&stopAfter, "stop-after", "", fmt.Sprintf("stop after this stage (default: %s)", stage))
	return cmd
}

// resolveJob loads the job named by args[0], or the most recently updated job if args is
// empty, per spec.md's "latest" job-manager operation.
func resolveJob(a *app, args []string) (*models.Job, error) {
	if len(args) == 1 {
		return a.store.Load(args[0])
	}
	job, err := a.store.Latest(jobstore.Filter{})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("no jobs exist yet in the working root")
	}
	return job, nil
}

// parseStage validates a user-supplied stage name, defaulting to def when raw is empty.
func parseStage(raw string, def models.Stage) (models.Stage, error) {
	if raw == "" {
		return def, nil
	}
	s := models.Stage(raw)
	if s.Index() < 0 {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

func printJobSummary(job *models.Job) {
	fmt.Printf("job %s: %s\n", job.ID, job.State.Status)
	for _, s := range models.Stages {
		rec := job.StageRecord(s)
		line := fmt.Sprintf("  %-10s %s", s, rec.Status)
		if rec.Error != "" {
			line += " (" + rec.Error + ")"
		}
		fmt.Println(line)
	}
}
