package joblog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore creates a store over a throwaway SQLite database with
// the clock pinned to a fixed instant.
func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "joblog.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewStore(db, WithNow(func() time.Time { return now }))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

var testDay = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

func TestStartCreatesPendingRecord(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, "paper-1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	rec, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "paper-1", rec.ScopeKey)
	assert.Equal(t, "2026-08-31", rec.RunDate)
	assert.Nil(t, rec.CompletedAt)
}

func TestCompleteTransitionsOnce(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, "paper-1")
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, jobID, StatusSuccess, "indexed"))

	rec, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, "indexed", rec.Detail)
}

func TestCompleteTwiceIsAnError(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, "paper-1")
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, jobID, StatusSuccess, ""))

	err = store.Complete(ctx, jobID, StatusFailed, "late failure")
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	// The record must be untouched: terminal states are immutable.
	rec, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Empty(t, rec.Detail)
}

func TestCompleteUnknownID(t *testing.T) {
	store := newTestStore(t, testDay)

	err := store.Complete(context.Background(), "no-such-id", StatusSuccess, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, "paper-1")
	require.NoError(t, err)

	err = store.Complete(ctx, jobID, StatusPending, "")
	require.ErrorIs(t, err, ErrNotTerminal)
}

func TestHasSucceededToday(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	ok, err := store.HasSucceededToday(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.False(t, ok)

	jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, StageScopeKey)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, jobID, StatusSuccess, ""))

	ok, err = store.HasSucceededToday(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.True(t, ok)

	// Entity-level success does not count for another job type.
	ok, err = store.HasSucceededToday(ctx, JobTypeGenerateAllPapersBlog)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasSucceededTodayIgnoresPartialSuccess(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, StageScopeKey)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, jobID, StatusPartialSuccess, ""))

	ok, err := store.HasSucceededToday(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.False(t, ok, "partial_success must allow re-entry")
}

func TestSucceededScopes(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	complete := func(scope string, status Status) {
		t.Helper()
		jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, scope)
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, jobID, status, ""))
	}

	complete("paper-1", StatusSuccess)
	complete("paper-2", StatusSkipped)
	complete("paper-3", StatusFailed)
	complete(StageScopeKey, StatusPartialSuccess)

	done, err := store.SucceededScopes(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"paper-1": true, "paper-2": true}, done)
}

func TestFailureRate(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	rate, err := store.FailureRate(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.Zero(t, rate, "no children means no failures")

	statuses := []Status{
		StatusSuccess, StatusSuccess, StatusSuccess, StatusSuccess,
		StatusSuccess, StatusSuccess, StatusSuccess, StatusSuccess,
		StatusSkipped, StatusFailed,
	}
	for i, status := range statuses {
		jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, scopeName(i))
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, jobID, status, ""))
	}

	rate, err = store.FailureRate(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, rate, 1e-9)
}

func TestFailureRateUsesLatestRecordPerScope(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	complete := func(scope string, status Status) {
		t.Helper()
		jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, scope)
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, jobID, status, ""))
	}

	// First run: both papers fail on a transient outage.
	complete("paper-1", StatusFailed)
	complete("paper-2", StatusFailed)

	rate, err := store.FailureRate(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rate, 1e-9)

	// Re-entry: paper-1 recovers. Its earlier failed record is
	// superseded, not counted alongside the success.
	complete("paper-1", StatusSuccess)

	rate, err = store.FailureRate(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rate, 1e-9)

	// Full recovery yields a clean rate.
	complete("paper-2", StatusSuccess)

	rate, err = store.FailureRate(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.Zero(t, rate)
}

func TestSummaryForDate(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	stageID, err := store.Start(ctx, JobTypeGeneratePerUserBlogs, StageScopeKey)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, stageID, StatusPartialSuccess, ""))

	userID, err := store.Start(ctx, JobTypeGeneratePerUserBlogs, "alice")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, userID, StatusSuccess, ""))

	_, err = store.Start(ctx, JobTypeGeneratePerUserBlogs, "bob")
	require.NoError(t, err)

	summary, err := store.SummaryForDate(ctx, JobTypeGeneratePerUserBlogs, "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, StatusPartialSuccess, summary.StageStatus)
	assert.Equal(t, 1, summary.Counts[StatusSuccess])
	assert.Equal(t, 1, summary.Counts[StatusPending])
	assert.Equal(t, 2, summary.Total)

	empty, err := store.SummaryForDate(ctx, JobTypeGeneratePerUserBlogs, "2026-08-30")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.StageStatus)
}

func TestSummaryForDateReportsLatestRecords(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	complete := func(scope string, status Status) {
		t.Helper()
		jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, scope)
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, jobID, status, ""))
	}

	// First run fails outright, re-entry recovers. Both stage-level
	// records remain in the audit trail; the summary must report the
	// latest one and must not double-count the recovered paper.
	complete("paper-1", StatusFailed)
	complete(StageScopeKey, StatusFailed)

	complete("paper-1", StatusSuccess)
	complete(StageScopeKey, StatusSuccess)

	summary, err := store.SummaryForDate(ctx, JobTypeFetchDailyPapers, "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, summary.StageStatus)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Counts[StatusSuccess])
	assert.Zero(t, summary.Counts[StatusFailed])
}

func TestConcurrentCompletionsDoNotLoseUpdates(t *testing.T) {
	store := newTestStore(t, testDay)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		jobID, err := store.Start(ctx, JobTypeFetchDailyPapers, scopeName(i))
		require.NoError(t, err)
		ids[i] = jobID
	}

	var wg sync.WaitGroup
	for _, jobID := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Complete(ctx, jobID, StatusSuccess, ""))
		}()
	}
	wg.Wait()

	done, err := store.SucceededScopes(ctx, JobTypeFetchDailyPapers)
	require.NoError(t, err)
	assert.Len(t, done, n)
}

func scopeName(i int) string {
	return "paper-" + string(rune('a'+i))
}
