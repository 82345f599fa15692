package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reportDays int
var reportProvider string
var reportRebuild bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate token/cost/time usage across jobs in the working root",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		index, err := a.openCostIndex()
		if err != nil {
			return fmt.Errorf("open report index: %w", err)
		}
		defer index.Close()

		if reportRebuild {
			if err := index.Rebuild(a.store); err != nil {
				return fmt.Errorf("rebuild report index: %w", err)
			}
		}

		var since time.Time
		if reportDays > 0 {
			since = time.Now().AddDate(0, 0, -reportDays)
		}

		totals, err := index.Report(since, reportProvider)
		if err != nil {
			return err
		}

		fmt.Printf("jobs=%d requests=%d tokens=%d cost_usd=%.4f time_s=%.1f\n",
			totals.JobCount, totals.RequestCount, totals.TotalTokens, totals.TotalCostUSD, totals.TotalTimeSeconds)
		return nil
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 0, "restrict to jobs updated in the last N days (0 = all time)")
	reportCmd.Flags().StringVar(&reportProvider, "provider", "", "restrict to one provider")
	reportCmd.Flags().BoolVar(&reportRebuild, "rebuild", false, "rebuild the derived report index from the working root before reporting")
	rootCmd.AddCommand(reportCmd)
}
