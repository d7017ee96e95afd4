package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format = "xml"
	require.ErrorContains(t, cfg.Validate(), "format")

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.File = ""
	require.ErrorContains(t, cfg.Validate(), "at least one output")

	cfg = NewDefaultConfig()
	cfg.Fields = map[string]string{"service": ""}
	require.ErrorContains(t, cfg.Validate(), "empty value")
}

func TestContextFieldsCarryCorrelation(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithStage(ctx, "fetch_daily_papers")
	ctx = WithScope(ctx, "2608.01234")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, zap.String("run.id", "run-123"), fields[0])
	assert.Equal(t, zap.String("stage", "fetch_daily_papers"), fields[1])
	assert.Equal(t, zap.String("scope", "2608.01234"), fields[2])

	assert.Empty(t, ContextFields(context.Background()))
}

func TestLoggerEmitsContextFields(t *testing.T) {
	testLogger := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithStage(ctx, "generate_all_papers_blog")
	testLogger.Info(ctx, "stage completed", zap.Int("succeeded", 3))

	entries := testLogger.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "run-123", fields["run.id"])
	assert.Equal(t, "generate_all_papers_blog", fields["stage"])
	assert.EqualValues(t, 3, fields["succeeded"])
}

func TestExecutionLogMirrorsEventsAsJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "execution.log")

	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.File = logPath
	cfg.Caller.Enabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info(WithRunID(context.Background(), "run-456"), "pipeline run starting")
	_ = logger.Sync()

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "pipeline run starting", entry["msg"])
	assert.Equal(t, "run-456", entry["run.id"])
	assert.Equal(t, "paperboy", entry["service"])
}

func TestExecutionLogAppendsAcrossRuns(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "execution.log")

	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.File = logPath
	cfg.Caller.Enabled = false

	for i := 0; i < 2; i++ {
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		logger.Info(context.Background(), "pipeline run starting")
		_ = logger.Sync()
	}

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(raw), "a new process must not truncate the log")
}

func countLines(raw []byte) int {
	n := 0
	for _, b := range raw {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestTestLoggerAssertions(t *testing.T) {
	testLogger := NewTestLogger()
	testLogger.Warn(context.Background(), "item failed")

	testLogger.AssertLogged(t, zapcore.WarnLevel, "item failed")
	testLogger.AssertNotLogged(t, zapcore.ErrorLevel, "item failed")
}
