package models

import "time"

// Job execution statuses.
const (
	ExecStatusRunning = "RUNNING"
	ExecStatusSuccess = "SUCCESS"
	ExecStatusFailure = "FAILURE"
	ExecStatusTimeout = "TIMEOUT"
	ExecStatusSkipped = "SKIPPED"
)

// Skip reasons for SKIPPED executions.
const (
	SkipReasonLockHeld   = "LOCK_HELD"
	SkipReasonAlreadyRan = "ALREADY_RAN_TODAY"
)

// JobExecution is one row of the append-only execution ledger. A record
// is created in RUNNING state and mutated exactly once to a terminal
// status by the invocation that created it; it is never deleted outside
// of retention trimming.
type JobExecution struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	ExecutionID string `gorm:"uniqueIndex;size:36;not null" json:"executionId"`
	JobName     string `gorm:"index;size:100;not null" json:"jobName"`
	// RunDate is the UTC calendar date of StartedAt, denormalized for the
	// same-day idempotency lookup.
	RunDate    string     `gorm:"index;size:10;not null" json:"runDate"`
	Status     string     `gorm:"size:16;not null" json:"status"`
	SkipReason string     `gorm:"size:32" json:"skipReason,omitempty"`
	RetryCount int        `json:"retryCount"`
	StartedAt  time.Time  `gorm:"index" json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
}

func (JobExecution) TableName() string { return "job_executions" }

// Terminal reports whether the record has reached a final status.
func (e *JobExecution) Terminal() bool {
	return e.Status != ExecStatusRunning
}
