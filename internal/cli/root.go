// Package cli implements the amanu command-line surface: running the pipeline end to end or
// stage by stage, inspecting and retrying jobs, running the directory watcher (optionally as
// an OS service), reporting accumulated cost, and serving the optional status HTTP surface.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfima/amanu/internal/config"
	"github.com/jfima/amanu/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "amanu",
	Short: "Turn recorded audio into structured documents through a resumable pipeline",
	Long: "amanu ingests audio, transcribes it, extracts a structured schema from it, renders\n" +
		"artifacts from templates, and shelves the result, one job directory at a time.",
	SilenceUsage: true,
}

// Execute runs the CLI, exiting the process with a non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		cfg := config.Load()
		logger.Init(cfg.LogLevel)
	})
}

// loadApp reloads config and wires a fresh app for the running command. Each command calls
// this itself, rather than sharing package-level state, so tests can construct independent
// apps in-process.
func loadApp() (*app, error) {
	cfg := config.Load()
	return buildApp(cfg)
}

// msToDuration converts a millisecond count from config into a time.Duration.
func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
