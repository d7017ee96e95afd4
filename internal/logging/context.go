// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"
)

// ContextFields extracts pipeline correlation data from context.
//
// Every log line emitted inside a run carries the run id; lines emitted
// inside a stage or an entity task additionally carry the stage name
// and the scope key, so the execution log can be joined against the
// job-log table by eye.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}
	if scope := ScopeFromContext(ctx); scope != "" {
		fields = append(fields, zap.String("scope", scope))
	}

	return fields
}

// Context key types
type runCtxKey struct{}
type stageCtxKey struct{}
type scopeCtxKey struct{}

// WithRunID adds the pipeline run id to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the run id from context.
func RunIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(runCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithStage adds the stage name to context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext extracts the stage name from context.
func StageFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(stageCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithScope adds the work-item scope key (paper id or username) to context.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// ScopeFromContext extracts the scope key from context.
func ScopeFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(scopeCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
