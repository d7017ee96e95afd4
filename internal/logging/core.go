// internal/logging/core.go
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newDualCore builds the zap core from config: an optional stdout core
// in the configured format, teed with an optional JSON file core for
// the execution log.
func newDualCore(cfg *Config) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		enc := newEncoder(cfg.Format)
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), cfg.Level))
	}

	if cfg.Output.File != "" {
		sink, err := openExecutionLog(cfg.Output.File)
		if err != nil {
			return nil, err
		}
		// The execution log is always JSON so it can be grepped and
		// post-processed regardless of the stdout format.
		cores = append(cores, zapcore.NewCore(newEncoder("json"), sink, cfg.Level))
	}

	if len(cores) == 0 {
		return zapcore.NewNopCore(), nil
	}
	if len(cores) == 1 {
		return cores[0], nil
	}
	return zapcore.NewTee(cores...), nil
}

// openExecutionLog opens (or creates) the execution log file for append.
func openExecutionLog(path string) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create execution log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution log %s: %w", path, err)
	}
	return zapcore.Lock(zapcore.AddSync(f)), nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
