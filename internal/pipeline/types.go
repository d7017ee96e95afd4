// Package pipeline implements the daily orchestration core: stage
// sequencing with dependency gates, per-entity fan-out with isolation
// and bounded retry, and aggregation of stage outcomes from the job
// log. The orchestrator keeps no state between runs; every re-entry
// decision is derived from joblog records.
package pipeline

import (
	"context"
	"time"

	"github.com/scholarstream/paperboy/internal/joblog"
)

// StageStatus is the orchestrator-level state of one stage within a run.
type StageStatus string

const (
	StageNotStarted     StageStatus = "NOT_STARTED"
	StageSuccess        StageStatus = "SUCCESS"
	StagePartialSuccess StageStatus = "PARTIAL_SUCCESS"
	StageFailed         StageStatus = "FAILED"
	StageSkipped        StageStatus = "SKIPPED"
)

// Satisfies reports whether this status satisfies a downstream
// dependency. Partial success is enough: best-effort degradation is
// preferred over halting the whole pipeline for a few bad papers.
func (s StageStatus) Satisfies() bool {
	return s == StageSuccess || s == StagePartialSuccess
}

// stageStatusOf maps a stage-level joblog status to the orchestrator view.
func stageStatusOf(s joblog.Status) StageStatus {
	switch s {
	case joblog.StatusSuccess:
		return StageSuccess
	case joblog.StatusPartialSuccess:
		return StagePartialSuccess
	case joblog.StatusFailed:
		return StageFailed
	default:
		return StageNotStarted
	}
}

// WorkItem is one unit of fan-out within a stage. Items are produced
// fresh each run and carry no identity beyond their scope key, which
// is the idempotence key against the job log.
type WorkItem interface {
	// ScopeKey returns the item's natural key (paper id or username).
	ScopeKey() string
}

// ItemOutcome is a non-failure result for one work item.
type ItemOutcome struct {
	Status joblog.Status // StatusSuccess or StatusSkipped
	Detail string
}

// Stage is one pipeline phase: a work-item source plus a per-item
// operation against an external service client.
type Stage interface {
	// Type identifies the stage in the job log.
	Type() joblog.JobType

	// DependsOn names the upstream stage that must have reached at
	// least partial success, or "" for the first stage.
	DependsOn() joblog.JobType

	// Items enumerates this run's work items. An error here aborts the
	// stage with no entity-level records.
	Items(ctx context.Context) ([]WorkItem, error)

	// Process performs the stage operation for one item. Returned
	// errors are classified transient or permanent by the executor's
	// retry policy; they never escape the stage as exceptions.
	Process(ctx context.Context, item WorkItem) (ItemOutcome, error)
}

// StageResult aggregates one stage execution.
type StageResult struct {
	JobType     joblog.JobType `json:"job_type"`
	Status      joblog.Status  `json:"status"`
	Succeeded   int            `json:"succeeded"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	AlreadyDone int            `json:"already_done"`
	FailureRate float64        `json:"failure_rate"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Detail      string         `json:"detail,omitempty"`
}

// StageReport is one stage's entry in the run report.
type StageReport struct {
	JobType joblog.JobType `json:"job_type"`
	Status  StageStatus    `json:"status"`
	Result  *StageResult   `json:"result,omitempty"`
}

// RunReport summarizes one orchestrator run.
type RunReport struct {
	RunID       string        `json:"run_id"`
	RunDate     string        `json:"run_date"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Stages      []StageReport `json:"stages"`
	Overall     StageStatus   `json:"overall"`
}

// ExitCode maps the overall run status to the process exit code.
func (r RunReport) ExitCode() int {
	if r.Overall == StageFailed {
		return 1
	}
	return 0
}
