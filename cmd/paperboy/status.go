// cmd/paperboy/status.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scholarstream/paperboy/internal/config"
	"github.com/scholarstream/paperboy/internal/joblog"
)

var statusDate string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the job-log summary for a run date",
	Long: `Status prints per-stage counts from the job log for one run date.

Examples:

  # Today's run
  paperboy status

  # A past run
  paperboy status --date 2026-08-30`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDate, "date", "", "run date (YYYY-MM-DD, default today)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	store, err := joblog.Open(cfg.JobLog.Path)
	if err != nil {
		return err
	}

	date := statusDate
	if date == "" {
		date = store.RunDate()
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
	}

	ctx := context.Background()
	fmt.Fprintf(os.Stdout, "job log for %s\n", date)
	for _, jobType := range joblog.AllJobTypes() {
		summary, err := store.SummaryForDate(ctx, jobType, date)
		if err != nil {
			return err
		}

		stage := string(summary.StageStatus)
		if stage == "" {
			stage = "not run"
		}
		fmt.Fprintf(os.Stdout, "  %-28s %-16s ok=%d skip=%d fail=%d pending=%d total=%d\n",
			jobType, stage,
			summary.Counts[joblog.StatusSuccess],
			summary.Counts[joblog.StatusSkipped],
			summary.Counts[joblog.StatusFailed],
			summary.Counts[joblog.StatusPending],
			summary.Total)
	}
	return nil
}
