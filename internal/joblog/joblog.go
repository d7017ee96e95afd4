// Package joblog persists the append-only audit trail of pipeline job
// executions. It is the only durable state the pipeline owns: every
// work item and every stage writes exactly one record here, and the
// orchestrator re-derives all re-entry decisions from these records.
package joblog

import (
	"errors"
	"time"
)

// JobType identifies one pipeline stage.
type JobType string

const (
	JobTypeFetchDailyPapers      JobType = "fetch_daily_papers"
	JobTypeGenerateAllPapersBlog JobType = "generate_all_papers_blog"
	JobTypeGeneratePerUserBlogs  JobType = "generate_per_user_blogs"
)

// AllJobTypes returns the job types in pipeline execution order.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeFetchDailyPapers,
		JobTypeGenerateAllPapersBlog,
		JobTypeGeneratePerUserBlogs,
	}
}

// Status is the job-record state machine. A record starts pending and
// transitions exactly once to a terminal status.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSuccess        Status = "success"
	StatusSkipped        Status = "skipped"
	StatusFailed         Status = "failed"
	StatusPartialSuccess Status = "partial_success"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusFailed, StatusPartialSuccess:
		return true
	}
	return false
}

// StageScopeKey marks the single stage-level summary record of a
// (job_type, run date) pair. Entity-level records use the item's
// natural key (paper id or username) instead.
const StageScopeKey = "__stage__"

var (
	// ErrNotFound indicates no record exists for the given job id.
	ErrNotFound = errors.New("joblog: record not found")

	// ErrAlreadyCompleted indicates a second completion attempt on a
	// record that already reached a terminal status.
	ErrAlreadyCompleted = errors.New("joblog: record already completed")

	// ErrNotTerminal indicates Complete was called with a non-terminal status.
	ErrNotTerminal = errors.New("joblog: completion status must be terminal")
)

// Record is one audit-log row, keyed by job id.
type Record struct {
	ID          string     `gorm:"primaryKey;size:36" json:"job_id"`
	JobType     JobType    `gorm:"size:64;index:idx_type_scope_date,priority:1" json:"job_type"`
	ScopeKey    string     `gorm:"size:256;index:idx_type_scope_date,priority:2" json:"scope_key"`
	RunDate     string     `gorm:"size:10;index:idx_type_scope_date,priority:3" json:"run_date"`
	Status      Status     `gorm:"size:32;index" json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// TableName sets the GORM table name.
func (Record) TableName() string {
	return "job_records"
}

// Summary aggregates today's records for one job type.
type Summary struct {
	JobType     JobType        `json:"job_type"`
	RunDate     string         `json:"run_date"`
	StageStatus Status         `json:"stage_status,omitempty"`
	Counts      map[Status]int `json:"counts"`
	Total       int            `json:"total"`
}
