// internal/config/loader.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/scholarstream/paperboy/internal/logging"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PIPELINE_TOLERANCE, INDEX_BASE_URL, ...)
//  2. YAML config file (~/.config/paperboy/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty,
// the default path is used. Config files must have 0600 permissions,
// live under ~/.config/paperboy/ or /etc/paperboy/, and be at most 1MB.
//
// Environment variables use underscore separator and are uppercased:
//
//	PIPELINE_MAX_ATTEMPTS -> pipeline.max_attempts
//	BACKEND_BASE_URL      -> backend.base_url
//	LLM_API_KEY           -> llm.api_key
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "paperboy", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the file descriptor to avoid a
		// TOCTOU race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	// Strategy: split on the first underscore only (section.field_name).
	//
	//	PIPELINE_MAX_ATTEMPTS -> pipeline.max_attempts
	//	DAEMON_SCHEDULE       -> daemon.schedule
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(k, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the paperboy config directory if it doesn't exist.
// The directory is created with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "paperboy")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet; validate the unresolved form.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "paperboy"),
		"/etc/paperboy",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/paperboy/ or /etc/paperboy/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip the permission check on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
// The koanf instance distinguishes absent keys from explicit zero
// values where zero is meaningful (pipeline.tolerance).
func applyDefaults(k *koanf.Koanf, cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}

	// Logging defaults
	if cfg.Logging.Format == "" {
		defaults := logging.NewDefaultConfig()
		cfg.Logging.Format = defaults.Format
		if cfg.Environment == EnvDevelopment {
			cfg.Logging.Format = "console"
		}
	}
	if !cfg.Logging.Output.Stdout && cfg.Logging.Output.File == "" {
		cfg.Logging.Output.Stdout = true
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "paperboy"}
	}

	// JobLog defaults
	if cfg.JobLog.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.JobLog.Path = filepath.Join(home, ".local", "share", "paperboy", "joblog.db")
		}
	}

	// Collaborator timeouts
	if cfg.Catalog.Timeout == 0 {
		cfg.Catalog.Timeout = Duration(30 * time.Second)
	}
	if cfg.Index.Timeout == 0 {
		cfg.Index.Timeout = Duration(60 * time.Second)
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = Duration(30 * time.Second)
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(120 * time.Second)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.RatePerS == 0 {
		cfg.LLM.RatePerS = 1
	}
	if cfg.LLM.RateBurst == 0 {
		cfg.LLM.RateBurst = 2
	}

	// Pipeline defaults. An explicit `tolerance: 0` (zero failures
	// allowed) is valid and must not be coerced to the default.
	if cfg.Pipeline.Tolerance == 0 && !k.Exists("pipeline.tolerance") {
		cfg.Pipeline.Tolerance = 0.10
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.InitialBackoff == 0 {
		cfg.Pipeline.InitialBackoff = Duration(time.Second)
	}
	if cfg.Pipeline.MaxBackoff == 0 {
		cfg.Pipeline.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Pipeline.BackoffMultiplier == 0 {
		cfg.Pipeline.BackoffMultiplier = 2.0
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 4
	}
	if cfg.Pipeline.RunTimeout == 0 {
		cfg.Pipeline.RunTimeout = Duration(2 * time.Hour)
	}

	// Daemon defaults
	if cfg.Daemon.Schedule == "" {
		cfg.Daemon.Schedule = "0 6 * * *"
	}
	if cfg.Daemon.Monitor.Host == "" {
		cfg.Daemon.Monitor.Host = "localhost"
	}
	if cfg.Daemon.Monitor.Port == 0 {
		cfg.Daemon.Monitor.Port = 9290
	}
}
