// Package monitor provides the HTTP surface served in daemon mode:
// health, Prometheus metrics, and a JSON view of today's job-log
// summaries for operators watching a run.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/logging"
)

// Config holds monitor server configuration.
type Config struct {
	Host string
	Port int
}

// Server serves the monitor endpoints.
type Server struct {
	echo   *echo.Echo
	store  *joblog.Store
	logger *logging.Logger
	config Config
}

// NewServer creates a monitor server over the job-log store and the
// metrics registry.
func NewServer(store *joblog.Store, registry *prometheus.Registry, logger *logging.Logger, cfg Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("elapsed", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		store:  store,
		logger: logger.Named("monitor"),
		config: cfg,
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/status", s.handleStatus)
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return s, nil
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns per-stage job-log summaries for a run date
// (query param `date`, default today).
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	date := c.QueryParam("date")
	if date == "" {
		date = s.store.RunDate()
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}

	summaries := make([]joblog.Summary, 0, len(joblog.AllJobTypes()))
	for _, jobType := range joblog.AllJobTypes() {
		summary, err := s.store.SummaryForDate(ctx, jobType, date)
		if err != nil {
			s.logger.Error(ctx, "failed to summarize job type",
				zap.String("job_type", string(jobType)), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "summary failed")
		}
		summaries = append(summaries, summary)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"run_date": date,
		"stages":   summaries,
	})
}
