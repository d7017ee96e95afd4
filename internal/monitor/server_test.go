package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/logging"
)

func newFixture(t *testing.T) (*Server, *joblog.Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "joblog.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	store := joblog.NewStore(db, joblog.WithNow(func() time.Time { return now }))
	require.NoError(t, store.Migrate(context.Background()))

	srv, err := NewServer(store, prometheus.NewRegistry(), logging.NewTestLogger().Logger, Config{})
	require.NoError(t, err)
	return srv, store
}

func TestHealthz(t *testing.T) {
	srv, _ := newFixture(t)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusReportsAllJobTypes(t *testing.T) {
	srv, store := newFixture(t)
	ctx := context.Background()

	jobID, err := store.Start(ctx, joblog.JobTypeFetchDailyPapers, joblog.StageScopeKey)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, jobID, joblog.StatusSuccess, ""))

	itemID, err := store.Start(ctx, joblog.JobTypeFetchDailyPapers, "2608.01234")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, itemID, joblog.StatusSuccess, ""))

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		RunDate string           `json:"run_date"`
		Stages  []joblog.Summary `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))

	assert.Equal(t, "2026-08-31", payload.RunDate)
	require.Len(t, payload.Stages, len(joblog.AllJobTypes()))
	assert.Equal(t, joblog.StatusSuccess, payload.Stages[0].StageStatus)
	assert.Equal(t, 1, payload.Stages[0].Total)
}

func TestStatusRejectsBadDate(t *testing.T) {
	srv, _ := newFixture(t)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusHonorsExplicitDate(t *testing.T) {
	srv, _ := newFixture(t)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?date=2026-08-30", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		RunDate string `json:"run_date"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "2026-08-30", payload.RunDate)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newFixture(t)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
