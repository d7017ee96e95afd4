// Package config provides configuration loading for paperboy.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. The environment setting selects development or production
// defaults for the daily pipeline.
package config

import (
	"fmt"
	"net/url"

	"github.com/scholarstream/paperboy/internal/logging"
)

// Environment names accepted in the top-level `environment` key.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds the complete paperboy configuration.
type Config struct {
	Environment string         `koanf:"environment"`
	Logging     logging.Config `koanf:"logging"`
	JobLog      JobLogConfig   `koanf:"joblog"`
	Catalog     ServiceConfig  `koanf:"catalog"`
	Index       ServiceConfig  `koanf:"index"`
	Backend     ServiceConfig  `koanf:"backend"`
	LLM         LLMConfig      `koanf:"llm"`
	Pipeline    PipelineConfig `koanf:"pipeline"`
	Daemon      DaemonConfig   `koanf:"daemon"`
}

// JobLogConfig holds job-log store configuration.
type JobLogConfig struct {
	// Path is the SQLite database file holding the job_records table.
	Path string `koanf:"path"`
}

// ServiceConfig holds settings for one external HTTP collaborator.
type ServiceConfig struct {
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
}

// LLMConfig holds blog-generation collaborator configuration.
type LLMConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RatePerS  float64  `koanf:"rate_per_s"`
	RateBurst int      `koanf:"rate_burst"`
}

// PipelineConfig holds stage-execution tuning.
type PipelineConfig struct {
	// Tolerance is the maximum entity failure rate a stage may incur
	// and still count as partial_success.
	Tolerance float64 `koanf:"tolerance"`

	// MaxAttempts bounds retries per work item, including the first try.
	MaxAttempts int `koanf:"max_attempts"`

	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	BackoffMultiplier float64  `koanf:"backoff_multiplier"`

	// Concurrency bounds the per-stage worker pool.
	Concurrency int `koanf:"concurrency"`

	// RunTimeout is the global deadline for one pipeline run.
	RunTimeout Duration `koanf:"run_timeout"`
}

// DaemonConfig holds settings for `paperboy daemon` mode.
type DaemonConfig struct {
	// Schedule is a cron expression for the daily run.
	Schedule string `koanf:"schedule"`

	Monitor MonitorConfig `koanf:"monitor"`
}

// MonitorConfig holds the monitor HTTP server address.
type MonitorConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Validate checks the configuration for errors.
//
// In production every collaborator URL must be set; in development
// missing URLs are tolerated so individual stages can be exercised
// against local fixtures.
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if c.JobLog.Path == "" {
		return fmt.Errorf("joblog.path is required")
	}

	for name, svc := range map[string]ServiceConfig{
		"catalog": c.Catalog,
		"index":   c.Index,
		"backend": c.Backend,
	} {
		if svc.BaseURL == "" {
			if c.Environment == EnvProduction {
				return fmt.Errorf("%s.base_url is required in production", name)
			}
			continue
		}
		if err := validateBaseURL(svc.BaseURL); err != nil {
			return fmt.Errorf("%s.base_url: %w", name, err)
		}
	}

	if c.Environment == EnvProduction {
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("llm.base_url is required in production")
		}
		if !c.LLM.APIKey.IsSet() {
			return fmt.Errorf("llm.api_key is required in production")
		}
	}
	if c.LLM.BaseURL != "" {
		if err := validateBaseURL(c.LLM.BaseURL); err != nil {
			return fmt.Errorf("llm.base_url: %w", err)
		}
	}

	if c.Pipeline.Tolerance < 0 || c.Pipeline.Tolerance > 1 {
		return fmt.Errorf("pipeline.tolerance must be in [0, 1], got %v", c.Pipeline.Tolerance)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.BackoffMultiplier < 1 {
		return fmt.Errorf("pipeline.backoff_multiplier must be >= 1, got %v", c.Pipeline.BackoffMultiplier)
	}

	if c.Daemon.Monitor.Port < 0 || c.Daemon.Monitor.Port > 65535 {
		return fmt.Errorf("daemon.monitor.port must be a valid port, got %d", c.Daemon.Monitor.Port)
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
