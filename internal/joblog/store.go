// internal/joblog/store.go
package joblog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides append-only access to job records.
//
// Writes from concurrent pool workers are safe: each entity owns its
// own record, and terminal transitions are guarded by a conditional
// update so double-completion is detected rather than overwritten.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock, used by tests to pin the run date.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if necessary) the SQLite-backed store at path
// and migrates the job_records table.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create joblog directory %s: %w", dir, err)
		}
	}

	// WAL plus a busy timeout so concurrent entity completions from the
	// worker pool queue up instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open joblog database %s: %w", path, err)
	}

	store := NewStore(db, opts...)
	if err := store.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing GORM handle. Callers own migration unless
// they came through Open.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the job_records table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to migrate job_records: %w", err)
	}
	return nil
}

// RunDate returns today's run date key (UTC).
func (s *Store) RunDate() string {
	return s.now().UTC().Format("2006-01-02")
}

// Start creates a pending record for (jobType, scopeKey) stamped with
// today's run date and returns the generated job id.
//
// Storage unavailability propagates to the caller; the pipeline must
// not run without its audit trail.
func (s *Store) Start(ctx context.Context, jobType JobType, scopeKey string) (string, error) {
	rec := Record{
		ID:        uuid.New().String(),
		JobType:   jobType,
		ScopeKey:  scopeKey,
		RunDate:   s.RunDate(),
		Status:    StatusPending,
		StartedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to start job log for %s/%s: %w", jobType, scopeKey, err)
	}
	return rec.ID, nil
}

// Complete transitions a record to a terminal status exactly once.
//
// A second completion of the same job id returns ErrAlreadyCompleted;
// records are never mutated after reaching a terminal state.
func (s *Store) Complete(ctx context.Context, jobID string, status Status, detail string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrNotTerminal, status)
	}

	completedAt := s.now().UTC()
	res := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ?", jobID).
		Where("status = ?", StatusPending).
		Updates(map[string]any{
			"status":       status,
			"completed_at": completedAt,
			"detail":       detail,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Nothing updated: either the id is unknown or the record already
	// reached a terminal status. Distinguish the two for the caller.
	var count int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return fmt.Errorf("%w: %s", ErrAlreadyCompleted, jobID)
}

// Get returns the record for jobID.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return &rec, nil
}

// HasSucceededToday reports whether the stage-level record for jobType
// on today's run date reached success. The orchestrator skips stages
// for which this holds.
func (s *Store) HasSucceededToday(ctx context.Context, jobType JobType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("job_type = ? AND scope_key = ? AND run_date = ? AND status = ?",
			jobType, StageScopeKey, s.RunDate(), StatusSuccess).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query stage status for %s: %w", jobType, err)
	}
	return count > 0, nil
}

// SucceededScopes returns the entity scope keys already success or
// skipped for jobType on today's run date. Stage executors consult
// this set for idempotent re-entry after a crash mid-stage.
func (s *Store) SucceededScopes(ctx context.Context, jobType JobType) (map[string]bool, error) {
	var scopes []string
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("job_type = ? AND run_date = ? AND scope_key <> ? AND status IN ?",
			jobType, s.RunDate(), StageScopeKey, []Status{StatusSuccess, StatusSkipped}).
		Pluck("scope_key", &scopes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query succeeded scopes for %s: %w", jobType, err)
	}

	done := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		done[scope] = true
	}
	return done, nil
}

// FailureRate returns the failed fraction of today's entity-level
// scopes for jobType. Zero scopes yields a zero rate.
//
// Only the latest record per scope counts: a scope that failed in an
// earlier run and succeeded on re-entry is recovered, not failed, so a
// fully recovered re-run never re-reports the old failures.
func (s *Store) FailureRate(ctx context.Context, jobType JobType) (float64, error) {
	latest, err := s.latestByScope(ctx, jobType, s.RunDate())
	if err != nil {
		return 0, fmt.Errorf("failed to load children for %s: %w", jobType, err)
	}
	if len(latest) == 0 {
		return 0, nil
	}

	failed := 0
	for _, status := range latest {
		if status == StatusFailed {
			failed++
		}
	}
	return float64(failed) / float64(len(latest)), nil
}

// latestByScope reduces a day's entity-level records to the most recent
// status per scope key. Ties on started_at (same clock tick) are broken
// by insertion order via the SQLite rowid.
func (s *Store) latestByScope(ctx context.Context, jobType JobType, runDate string) (map[string]Status, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Where("job_type = ? AND run_date = ? AND scope_key <> ?", jobType, runDate, StageScopeKey).
		Order("started_at, rowid").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Status, len(recs))
	for _, rec := range recs {
		latest[rec.ScopeKey] = rec.Status
	}
	return latest, nil
}

// StageSummary aggregates today's records for jobType.
func (s *Store) StageSummary(ctx context.Context, jobType JobType) (Summary, error) {
	return s.SummaryForDate(ctx, jobType, s.RunDate())
}

// SummaryForDate aggregates records for jobType on the given run date.
//
// Re-entered stages leave superseded records behind as an audit trail;
// the summary reports the authoritative view: the latest stage-level
// record and the latest status per entity scope.
func (s *Store) SummaryForDate(ctx context.Context, jobType JobType, runDate string) (Summary, error) {
	summary := Summary{
		JobType: jobType,
		RunDate: runDate,
		Counts:  make(map[Status]int),
	}

	var recs []Record
	err := s.db.WithContext(ctx).
		Where("job_type = ? AND run_date = ?", jobType, runDate).
		Order("started_at, rowid").
		Find(&recs).Error
	if err != nil {
		return summary, fmt.Errorf("failed to load records for %s on %s: %w", jobType, runDate, err)
	}

	latest := make(map[string]Status, len(recs))
	for _, rec := range recs {
		if rec.ScopeKey == StageScopeKey {
			summary.StageStatus = rec.Status
			continue
		}
		latest[rec.ScopeKey] = rec.Status
	}
	for _, status := range latest {
		summary.Counts[status]++
		summary.Total++
	}
	return summary, nil
}
