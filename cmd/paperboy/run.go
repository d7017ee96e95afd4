// cmd/paperboy/run.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scholarstream/paperboy/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and exit",
	Long: `Run executes the daily pipeline once, the way a cron entry invokes it.

The run is idempotent: stages that already succeeded today are skipped,
and individual papers or users already processed are not redone. Exit
code 0 means SUCCESS or PARTIAL_SUCCESS, 1 means FAILED, 2 means the
run could not start (configuration or storage error).`,
	RunE: runOnce,
}

func runOnce(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, application.cfg.Pipeline.RunTimeout.Duration())
	defer cancel()

	report, err := application.orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	printReport(report)
	exitCode = report.ExitCode()
	return nil
}

// printReport writes the human-readable run summary to stdout.
func printReport(report pipeline.RunReport) {
	fmt.Fprintf(os.Stdout, "run %s (%s): %s in %s\n",
		report.RunID, report.RunDate, report.Overall,
		report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, stage := range report.Stages {
		if stage.Result == nil {
			fmt.Fprintf(os.Stdout, "  %-28s %s\n", stage.JobType, stage.Status)
			continue
		}
		fmt.Fprintf(os.Stdout, "  %-28s %-16s ok=%d skip=%d fail=%d done=%d rate=%.0f%%\n",
			stage.JobType, stage.Status,
			stage.Result.Succeeded, stage.Result.Skipped, stage.Result.Failed,
			stage.Result.AlreadyDone, stage.Result.FailureRate*100)
	}
}
