package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	kservice "github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jfima/amanu/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory and feed dropped audio files into the pipeline",
}

var watchConfigPath string
var watchInputDir string

var watchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watcher loop in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		w := a.newWatcher(resolvedInputDir())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	},
}

// resolvedInputDir prefers --input, falls back to --config's input_dir key, else signals the
// configured default (empty string, resolved by app.newWatcher against cfg.InputDir).
func resolvedInputDir() string {
	if watchInputDir != "" {
		return watchInputDir
	}
	if watchConfigPath == "" {
		return ""
	}
	v := viper.New()
	v.SetConfigFile(watchConfigPath)
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.GetString("input_dir")
}

// watchService builds the installable OS service for the watcher, wired against the same
// input directory resolution the foreground `watch run` uses.
func watchService() (kservice.Service, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	w := a.newWatcher(resolvedInputDir())
	return watcher.NewService(w, watchConfigPath)
}

func runWatchServiceCommand(action string) error {
	svc, err := watchService()
	if err != nil {
		return err
	}
	return kservice.Control(svc, action)
}

var watchInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the watcher as an OS-managed background service",
	RunE:  func(cmd *cobra.Command, args []string) error { return runWatchServiceCommand("install") },
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed watcher service",
	RunE:  func(cmd *cobra.Command, args []string) error { return runWatchServiceCommand("start") },
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the installed watcher service",
	RunE:  func(cmd *cobra.Command, args []string) error { return runWatchServiceCommand("stop") },
}

var watchUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the watcher service",
	RunE:  func(cmd *cobra.Command, args []string) error { return runWatchServiceCommand("uninstall") },
}

var watchLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print where to find the watcher service's logs on this platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("amanu-watcher logs through the OS service manager:")
		fmt.Println("  systemd:  journalctl -u amanu-watcher -f")
		fmt.Println("  launchd:  log stream --predicate 'process == \"amanu\"'")
		fmt.Println("  windows:  Event Viewer, Application log, source amanu-watcher")
		return nil
	},
}

func init() {
	watchCmd.PersistentFlags().StringVar(&watchConfigPath, "config", "", "path to a watch config file (input_dir override)")
	watchRunCmd.Flags().StringVar(&watchInputDir, "input", "", "override the configured input directory")

	watchCmd.AddCommand(watchRunCmd, watchInstallCmd, watchStartCmd, watchStopCmd, watchUninstallCmd, watchLogsCmd)
	rootCmd.AddCommand(watchCmd)
}
