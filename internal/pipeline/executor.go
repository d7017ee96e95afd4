// internal/pipeline/executor.go
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/logging"
)

// ExecutorConfig tunes stage execution.
type ExecutorConfig struct {
	// Tolerance is the maximum failure rate for partial_success.
	Tolerance float64

	// Concurrency bounds the per-stage worker pool.
	Concurrency int

	// Retry is applied to every item operation.
	Retry RetryPolicy
}

// Executor fans a stage's work items out over a bounded worker pool,
// isolating per-item failures and recording one joblog entry per item
// plus one stage-level summary entry.
type Executor struct {
	store   *joblog.Store
	logger  *logging.Logger
	cfg     ExecutorConfig
	metrics *Metrics
}

// NewExecutor creates a stage executor.
func NewExecutor(store *joblog.Store, logger *logging.Logger, cfg ExecutorConfig, metrics *Metrics) *Executor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Executor{
		store:   store,
		logger:  logger.Named("executor"),
		cfg:     cfg,
		metrics: metrics,
	}
}

// Run executes one stage to completion.
//
// Item errors become failed records, never returned errors. The
// returned error is non-nil only for joblog storage failures, which
// are fatal to the run: without the audit trail, idempotent re-entry
// is unsafe.
func (e *Executor) Run(ctx context.Context, stage Stage) (StageResult, error) {
	jobType := stage.Type()
	ctx = logging.WithStage(ctx, string(jobType))
	start := time.Now()

	result := StageResult{JobType: jobType}

	// Joblog writes run on a detached context: a cancelled run must
	// still record terminal states for everything it attempted.
	storeCtx := context.WithoutCancel(ctx)

	stageJobID, err := e.store.Start(storeCtx, jobType, joblog.StageScopeKey)
	if err != nil {
		return result, err
	}

	items, err := stage.Items(ctx)
	if err != nil {
		// Adapter failure: cannot fan out with no entities. The stage
		// fails with no entity-level children.
		e.logger.Error(ctx, "stage item source failed", zap.Error(err))
		result.Status = joblog.StatusFailed
		result.Detail = fmt.Sprintf("item source failed: %v", err)
		if cerr := e.store.Complete(storeCtx, stageJobID, joblog.StatusFailed, result.Detail); cerr != nil {
			return result, cerr
		}
		e.metrics.observeStage(string(jobType), time.Since(start))
		return result, nil
	}

	if len(items) == 0 {
		// Empty fan-out is not an error.
		e.logger.Info(ctx, "stage has no work items")
		result.Status = joblog.StatusSuccess
		if cerr := e.store.Complete(storeCtx, stageJobID, joblog.StatusSuccess, "no work items"); cerr != nil {
			return result, cerr
		}
		e.metrics.observeStage(string(jobType), time.Since(start))
		return result, nil
	}

	done, err := e.store.SucceededScopes(storeCtx, jobType)
	if err != nil {
		return result, err
	}

	e.logger.Info(ctx, "stage fan-out starting",
		zap.Int("items", len(items)),
		zap.Int("already_done", len(done)),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)

	for _, item := range items {
		if ctx.Err() != nil {
			// Cancellation: stop launching new items; in-flight ones
			// finish their current attempt.
			mu.Lock()
			result.Interrupted = true
			mu.Unlock()
			break
		}

		if done[item.ScopeKey()] {
			mu.Lock()
			result.AlreadyDone++
			mu.Unlock()
			e.logger.Debug(ctx, "item already succeeded today, skipping",
				zap.String("scope", item.ScopeKey()))
			continue
		}

		g.Go(func() error {
			outcome, err := e.processItem(ctx, stage, item)
			if err != nil {
				// Only storage failures escape item processing.
				return err
			}
			mu.Lock()
			switch outcome {
			case joblog.StatusSuccess:
				result.Succeeded++
			case joblog.StatusSkipped:
				result.Skipped++
			case joblog.StatusFailed:
				result.Failed++
			}
			mu.Unlock()
			e.metrics.observeItem(string(jobType), string(outcome))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	rate, err := e.store.FailureRate(storeCtx, jobType)
	if err != nil {
		return result, err
	}
	result.FailureRate = rate
	result.Status = e.stageStatus(rate, result.Interrupted)

	detail, _ := json.Marshal(result)
	if err := e.store.Complete(storeCtx, stageJobID, result.Status, string(detail)); err != nil {
		return result, err
	}

	e.metrics.observeStage(string(jobType), time.Since(start))
	e.logger.Info(ctx, "stage completed",
		zap.String("status", string(result.Status)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("already_done", result.AlreadyDone),
		zap.Float64("failure_rate", rate),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// processItem runs one work item through start-record, retry-wrapped
// processing, and terminal completion. Returns the terminal status;
// the error return is reserved for joblog storage failures.
func (e *Executor) processItem(ctx context.Context, stage Stage, item WorkItem) (joblog.Status, error) {
	itemCtx := logging.WithScope(ctx, item.ScopeKey())
	storeCtx := context.WithoutCancel(itemCtx)

	jobID, err := e.store.Start(storeCtx, stage.Type(), item.ScopeKey())
	if err != nil {
		return "", err
	}

	// A run-level cancel lets the in-flight attempt finish (client
	// timeouts still bound it) but prevents further retries: Do checks
	// the live context between attempts.
	attemptCtx := context.WithoutCancel(itemCtx)

	var outcome ItemOutcome
	procErr := e.cfg.Retry.Do(ctx, Transient, func() error {
		var opErr error
		outcome, opErr = stage.Process(attemptCtx, item)
		return opErr
	})

	status := joblog.StatusFailed
	detail := ""
	switch {
	case procErr != nil:
		detail = procErr.Error()
		e.logger.Warn(itemCtx, "item failed", zap.Error(procErr))
	case outcome.Status == joblog.StatusSkipped:
		status = joblog.StatusSkipped
		detail = outcome.Detail
		e.logger.Debug(itemCtx, "item skipped", zap.String("reason", outcome.Detail))
	default:
		status = joblog.StatusSuccess
		detail = outcome.Detail
	}

	if err := e.store.Complete(storeCtx, jobID, status, detail); err != nil {
		return "", err
	}
	return status, nil
}

// stageStatus derives the stage-level outcome from the failure rate of
// today's children and whether the fan-out was interrupted.
func (e *Executor) stageStatus(rate float64, interrupted bool) joblog.Status {
	if rate > e.cfg.Tolerance {
		return joblog.StatusFailed
	}
	if interrupted || rate > 0 {
		// An interrupted stage must not be recorded success, or
		// re-entry would skip the unprocessed remainder for the day.
		return joblog.StatusPartialSuccess
	}
	return joblog.StatusSuccess
}
