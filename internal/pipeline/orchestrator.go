// internal/pipeline/orchestrator.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/logging"
)

// Orchestrator drives the stages in fixed order with dependency gates.
//
// It holds no state between runs: whether a stage already ran today,
// and how badly it failed, are both re-derived from the job log, so a
// crashed-and-restarted run resumes where it stopped.
type Orchestrator struct {
	store    *joblog.Store
	executor *Executor
	stages   []Stage
	logger   *logging.Logger
	metrics  *Metrics
}

// NewOrchestrator creates an orchestrator over the given stages. The
// slice order is the execution order.
func NewOrchestrator(store *joblog.Store, executor *Executor, stages []Stage, logger *logging.Logger, metrics *Metrics) (*Orchestrator, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one stage")
	}
	seen := make(map[joblog.JobType]bool, len(stages))
	for _, stage := range stages {
		if seen[stage.Type()] {
			return nil, fmt.Errorf("duplicate stage %s", stage.Type())
		}
		if dep := stage.DependsOn(); dep != "" && !seen[dep] {
			return nil, fmt.Errorf("stage %s depends on %s which does not precede it", stage.Type(), dep)
		}
		seen[stage.Type()] = true
	}
	return &Orchestrator{
		store:    store,
		executor: executor,
		stages:   stages,
		logger:   logger.Named("orchestrator"),
		metrics:  metrics,
	}, nil
}

// Run executes one pipeline run. The returned error is non-nil only
// for storage failures; stage failures are reported in the RunReport
// with Overall set to FAILED.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)

	report := RunReport{
		RunID:     runID,
		RunDate:   o.store.RunDate(),
		StartedAt: time.Now().UTC(),
	}

	o.logger.Info(ctx, "pipeline run starting",
		zap.String("run_date", report.RunDate),
		zap.Int("stages", len(o.stages)),
	)

	statuses := make(map[joblog.JobType]StageStatus, len(o.stages))
	halted := false

	for _, stage := range o.stages {
		jobType := stage.Type()
		stageReport := StageReport{JobType: jobType, Status: StageNotStarted}

		switch {
		case halted:
			stageReport.Status = StageSkipped
			o.logger.Warn(ctx, "stage skipped: upstream failed",
				zap.String("stage", string(jobType)))

		default:
			// Idempotent re-entry: a stage that already reached
			// success today is not re-run.
			succeeded, err := o.store.HasSucceededToday(ctx, jobType)
			if err != nil {
				return report, err
			}
			if succeeded {
				stageReport.Status = StageSuccess
				o.logger.Info(ctx, "stage already succeeded today, skipping",
					zap.String("stage", string(jobType)))
				break
			}

			if dep := stage.DependsOn(); dep != "" && !statuses[dep].Satisfies() {
				stageReport.Status = StageSkipped
				o.logger.Warn(ctx, "stage skipped: dependency not satisfied",
					zap.String("stage", string(jobType)),
					zap.String("depends_on", string(dep)),
					zap.String("dependency_status", string(statuses[dep])),
				)
				break
			}

			result, err := o.executor.Run(ctx, stage)
			if err != nil {
				return report, err
			}
			stageReport.Status = stageStatusOf(result.Status)
			stageReport.Result = &result
		}

		if stageReport.Status == StageFailed {
			halted = true
		}
		statuses[jobType] = stageReport.Status
		report.Stages = append(report.Stages, stageReport)
	}

	report.CompletedAt = time.Now().UTC()
	report.Overall = overallStatus(report.Stages)
	o.metrics.observeRun(report.CompletedAt)

	o.logger.Info(ctx, "pipeline run finished",
		zap.String("overall", string(report.Overall)),
		zap.Duration("elapsed", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// overallStatus aggregates stage statuses into the run outcome.
func overallStatus(stages []StageReport) StageStatus {
	overall := StageSuccess
	for _, stage := range stages {
		switch stage.Status {
		case StageFailed, StageSkipped:
			// A skipped stage here means its upstream failed.
			return StageFailed
		case StagePartialSuccess:
			overall = StagePartialSuccess
		}
	}
	return overall
}
