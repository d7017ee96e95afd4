// Paperboy runs the daily paper-recommendation pipeline: fetch newly
// published papers, index them, generate an all-papers blog, and build
// per-user recommendation sets for subscribers.
//
// Usage:
//
//	# One-shot run (what cron invokes)
//	paperboy run
//
//	# Long-running scheduler with monitor endpoints
//	paperboy daemon
//
//	# Inspect today's job log
//	paperboy status
//
// Configuration is loaded from ~/.config/paperboy/config.yaml with
// environment variable overrides; see internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/scholarstream/paperboy/internal/backend"
	"github.com/scholarstream/paperboy/internal/catalog"
	"github.com/scholarstream/paperboy/internal/config"
	"github.com/scholarstream/paperboy/internal/index"
	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/llm"
	"github.com/scholarstream/paperboy/internal/logging"
	"github.com/scholarstream/paperboy/internal/pipeline"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the optional --config flag value.
	configPath string

	// exitCode carries the pipeline outcome out of cobra. Fatal
	// (config/storage) errors exit 2 via Execute's error path.
	exitCode int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "paperboy: %v\n", err)
		os.Exit(2)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:           "paperboy",
	Short:         "Daily paper-recommendation pipeline",
	Long:          `Paperboy orchestrates the daily pipeline that fetches newly published papers, indexes them, generates summaries, and pushes personalized recommendations to subscribers.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/paperboy/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
}

// app bundles the wired pipeline for the run and daemon commands.
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	store        *joblog.Store
	registry     *prometheus.Registry
	orchestrator *pipeline.Orchestrator
}

// newApp loads configuration and wires every component of the pipeline.
func newApp() (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := joblog.Open(cfg.JobLog.Path)
	if err != nil {
		return nil, err
	}

	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout.Duration(), logger)
	indexClient := index.NewClient(cfg.Index.BaseURL, cfg.Index.Timeout.Duration(), logger)
	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout.Duration(), logger)

	generator, err := llm.NewClient(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey.Value(),
		Timeout:   cfg.LLM.Timeout.Duration(),
		RatePerS:  cfg.LLM.RatePerS,
		RateBurst: cfg.LLM.RateBurst,
	}, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(registry)

	executor := pipeline.NewExecutor(store, logger, pipeline.ExecutorConfig{
		Tolerance:   cfg.Pipeline.Tolerance,
		Concurrency: cfg.Pipeline.Concurrency,
		Retry: pipeline.RetryPolicy{
			MaxAttempts:    cfg.Pipeline.MaxAttempts,
			InitialBackoff: cfg.Pipeline.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Pipeline.MaxBackoff.Duration(),
			Multiplier:     cfg.Pipeline.BackoffMultiplier,
		},
	}, metrics)

	stages := []pipeline.Stage{
		pipeline.NewFetchStage(catalogClient, indexClient, nil),
		pipeline.NewBlogStage(backendClient, generator, store.RunDate),
		pipeline.NewRecommendStage(backendClient, indexClient, backendClient,
			pipeline.DefaultRecommendConfig(), nil, store.RunDate),
	}

	orchestrator, err := pipeline.NewOrchestrator(store, executor, stages, logger, metrics)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		registry:     registry,
		orchestrator: orchestrator,
	}, nil
}
