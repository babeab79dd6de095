package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fractalworks/jobsentry/internal/models"
)

// ErrNotOwner is returned when a terminal transition targets a record
// that is no longer RUNNING — a second writer lost the exactly-once race.
var ErrNotOwner = errors.New("execution record already finalized")

// LedgerService is the append-only execution history. Records are created
// RUNNING and finalized exactly once by the invocation that began them.
type LedgerService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db, now: time.Now}
}

// utcDate formats t as the UTC calendar date used for the idempotency
// window.
func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Begin creates a RUNNING record for a fresh invocation.
func (s *LedgerService) Begin(jobName string) (*models.JobExecution, error) {
	now := s.now().UTC()
	exec := &models.JobExecution{
		ExecutionID: uuid.NewString(),
		JobName:     jobName,
		RunDate:     utcDate(now),
		Status:      models.ExecStatusRunning,
		StartedAt:   now,
	}
	if err := s.db.Create(exec).Error; err != nil {
		return nil, fmt.Errorf("begin execution for %s: %w", jobName, err)
	}
	return exec, nil
}

// Finish moves a RUNNING record to its terminal status. The guard on the
// previous status makes the terminal write exactly-once: a record that
// was already finalized is left untouched and ErrNotOwner is returned.
func (s *LedgerService) Finish(exec *models.JobExecution, status, errMsg string) error {
	now := s.now().UTC()
	res := s.db.Model(&models.JobExecution{}).
		Where("execution_id = ? AND status = ?", exec.ExecutionID, models.ExecStatusRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"retry_count": exec.RetryCount,
			"finished_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("finish execution %s: %w", exec.ExecutionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotOwner
	}
	exec.Status = status
	exec.Error = errMsg
	exec.FinishedAt = &now
	return nil
}

// RecordSkip appends a terminal SKIPPED record; skipped invocations never
// pass through RUNNING.
func (s *LedgerService) RecordSkip(jobName, reason string) (*models.JobExecution, error) {
	now := s.now().UTC()
	exec := &models.JobExecution{
		ExecutionID: uuid.NewString(),
		JobName:     jobName,
		RunDate:     utcDate(now),
		Status:      models.ExecStatusSkipped,
		SkipReason:  reason,
		StartedAt:   now,
		FinishedAt:  &now,
	}
	if err := s.db.Create(exec).Error; err != nil {
		return nil, fmt.Errorf("record skip for %s: %w", jobName, err)
	}
	return exec, nil
}

// SucceededOn reports whether jobName already has a SUCCESS record for
// the given UTC calendar date.
func (s *LedgerService) SucceededOn(jobName, date string) (bool, error) {
	var count int64
	err := s.db.Model(&models.JobExecution{}).
		Where("job_name = ? AND run_date = ? AND status = ?", jobName, date, models.ExecStatusSuccess).
		Count(&count).Error
	return count > 0, err
}

// History returns executions most recent first, optionally filtered by
// job name and capped at limit.
func (s *LedgerService) History(jobName string, limit int) ([]models.JobExecution, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.Order("started_at DESC, id DESC").Limit(limit)
	if jobName != "" {
		q = q.Where("job_name = ?", jobName)
	}
	var execs []models.JobExecution
	err := q.Find(&execs).Error
	return execs, err
}

// ExecStats are the rolling-window counters backing cron/status.
type ExecStats struct {
	Executions int64 `json:"executionsLast24h"`
	Failures   int64 `json:"failuresLast24h"`
	Timeouts   int64 `json:"timeoutsLast24h"`
}

// StatsSince counts executions by outcome since the given instant.
func (s *LedgerService) StatsSince(since time.Time) (*ExecStats, error) {
	stats := &ExecStats{}

	if err := s.db.Model(&models.JobExecution{}).
		Where("started_at >= ?", since).
		Count(&stats.Executions).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.JobExecution{}).
		Where("started_at >= ? AND status = ?", since, models.ExecStatusFailure).
		Count(&stats.Failures).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.JobExecution{}).
		Where("started_at >= ? AND status = ?", since, models.ExecStatusTimeout).
		Count(&stats.Timeouts).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// LastSuccessDate returns the run date of the most recent SUCCESS for
// jobName, or "" when none exists.
func (s *LedgerService) LastSuccessDate(jobName string) (string, error) {
	var exec models.JobExecution
	err := s.db.Where("job_name = ? AND status = ?", jobName, models.ExecStatusSuccess).
		Order("started_at DESC").First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return exec.RunDate, nil
}
