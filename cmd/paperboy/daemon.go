// cmd/paperboy/daemon.go
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scholarstream/paperboy/internal/monitor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the pipeline on a schedule with monitor endpoints",
	Long: `Daemon runs the pipeline on the configured cron schedule
(daemon.schedule, default 06:00 daily) and serves monitor endpoints:

  /healthz   liveness
  /metrics   Prometheus metrics
  /status    today's per-stage job-log summaries`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := application.logger.Named("daemon")

	server, err := monitor.NewServer(application.store, application.registry, application.logger, monitor.Config{
		Host: application.cfg.Daemon.Monitor.Host,
		Port: application.cfg.Daemon.Monitor.Port,
	})
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(application.cfg.Daemon.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, application.cfg.Pipeline.RunTimeout.Duration())
		defer cancel()

		report, err := application.orchestrator.Run(runCtx)
		if err != nil {
			logger.Error(runCtx, "scheduled run aborted", zap.Error(err))
			return
		}
		logger.Info(runCtx, "scheduled run finished",
			zap.String("run_id", report.RunID),
			zap.String("overall", string(report.Overall)),
		)
	})
	if err != nil {
		return err
	}
	scheduler.Start()

	logger.Info(ctx, "daemon started",
		zap.String("schedule", application.cfg.Daemon.Schedule),
		zap.String("monitor", fmt.Sprintf("%s:%d",
			application.cfg.Daemon.Monitor.Host, application.cfg.Daemon.Monitor.Port)),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	// Let an in-progress scheduled run wind down before stopping the
	// monitor server.
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
