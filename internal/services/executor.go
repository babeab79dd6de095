package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// RunResult is what a trigger caller sees: always the terminal state of
// the execution record, never an intermediate one.
type RunResult struct {
	ExecutionID string `json:"jobId,omitempty"`
	Status      string `json:"status"`
	SkipReason  string `json:"skipReason,omitempty"`
	RetryCount  int    `json:"retryCount"`
	Err         error  `json:"-"`
}

// Skipped reports whether the invocation short-circuited before running.
func (r *RunResult) Skipped() bool {
	return r.Status == models.ExecStatusSkipped
}

// Executor drives one job run through its state machine:
// PENDING → RUNNING → {SUCCESS | FAILURE | TIMEOUT}, with the early exit
// PENDING → SKIPPED when the same-day idempotency check or the lock
// acquisition fails.
type Executor struct {
	locks   *LockService
	ledger  *LedgerService
	queue   TaskQueue
	audit   *AuditService
	payload Payload
	cfg     *config.Config
	now     func() time.Time
	// preLock is swapped in tests to widen the gap between the
	// idempotency check and lock acquisition.
	preLock func()
}

func NewExecutor(locks *LockService, ledger *LedgerService, queue TaskQueue, audit *AuditService, payload Payload, cfg *config.Config) *Executor {
	return &Executor{
		locks:   locks,
		ledger:  ledger,
		queue:   queue,
		audit:   audit,
		payload: payload,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run executes jobName once, honoring the one-per-UTC-day idempotency
// window and the distributed lock. actor tags the audit trail entries.
func (e *Executor) Run(ctx context.Context, jobName, actor string, params map[string]string) (*RunResult, error) {
	today := utcDate(e.now())

	// Idempotency short-circuit: a SUCCESS today makes re-triggering a
	// no-op without even touching the lock.
	done, err := e.ledger.SucceededOn(jobName, today)
	if err != nil {
		return nil, err
	}
	if done {
		exec, err := e.ledger.RecordSkip(jobName, models.SkipReasonAlreadyRan)
		if err != nil {
			return nil, err
		}
		e.audit.Record(actor, "job-run", "SKIPPED", fmt.Sprintf("job=%s reason=%s", jobName, models.SkipReasonAlreadyRan))
		return &RunResult{ExecutionID: exec.ExecutionID, Status: models.ExecStatusSkipped, SkipReason: models.SkipReasonAlreadyRan}, nil
	}

	if e.preLock != nil {
		e.preLock()
	}

	lock, ok, err := e.locks.Acquire(jobName, e.cfg.LockTTL())
	if err != nil {
		return nil, err
	}
	if !ok {
		exec, err := e.ledger.RecordSkip(jobName, models.SkipReasonLockHeld)
		if err != nil {
			return nil, err
		}
		e.audit.Record(actor, "lock-acquire", "DENIED", "job="+jobName)
		return &RunResult{ExecutionID: exec.ExecutionID, Status: models.ExecStatusSkipped, SkipReason: models.SkipReasonLockHeld}, nil
	}
	e.audit.Record(actor, "lock-acquire", "GRANTED", "job="+jobName)

	defer func() {
		if err := e.locks.Release(lock); err != nil {
			logger.Errorf("[Executor] lock release failed for %s: %v", jobName, err)
		}
	}()

	// A concurrent run may have finished between the idempotency check
	// and Acquire; re-check now that the lock is ours.
	done, err = e.ledger.SucceededOn(jobName, today)
	if err != nil {
		return nil, err
	}
	if done {
		exec, err := e.ledger.RecordSkip(jobName, models.SkipReasonAlreadyRan)
		if err != nil {
			return nil, err
		}
		e.audit.Record(actor, "job-run", "SKIPPED", fmt.Sprintf("job=%s reason=%s", jobName, models.SkipReasonAlreadyRan))
		return &RunResult{ExecutionID: exec.ExecutionID, Status: models.ExecStatusSkipped, SkipReason: models.SkipReasonAlreadyRan}, nil
	}

	exec, err := e.ledger.Begin(jobName)
	if err != nil {
		return nil, err
	}

	status, runErr := e.runAttempts(ctx, exec, params)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := e.ledger.Finish(exec, status, errMsg); err != nil {
		// ErrNotOwner means another writer finalized the record; that
		// breaks the single-owner invariant and is worth a loud log.
		logger.Errorf("[Executor] terminal write failed for %s: %v", exec.ExecutionID, err)
	}
	e.audit.Record(actor, "job-run", status, fmt.Sprintf("job=%s execution=%s retries=%d", jobName, exec.ExecutionID, exec.RetryCount))

	e.emitOutcome(exec, params)

	return &RunResult{
		ExecutionID: exec.ExecutionID,
		Status:      status,
		RetryCount:  exec.RetryCount,
		Err:         runErr,
	}, nil
}

// runAttempts invokes the payload under the configured per-attempt
// timeout, retrying transient failures up to the bounded count. A timeout
// is terminal on first occurrence: the payload's state after a deadline
// expiry is unknown, so re-running it blind is worse than reporting.
func (e *Executor) runAttempts(ctx context.Context, exec *models.JobExecution, params map[string]string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.Job.MaxRetries; attempt++ {
		if attempt > 0 {
			exec.RetryCount = attempt
			logger.Infof("[Executor] retrying %s (attempt %d/%d)", exec.JobName, attempt, e.cfg.Job.MaxRetries)
		}

		err := e.runOnce(ctx, params)
		if err == nil {
			return models.ExecStatusSuccess, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ExecStatusTimeout, err
		}
		if errors.Is(err, context.Canceled) {
			return models.ExecStatusFailure, err
		}
		lastErr = err
	}
	return models.ExecStatusFailure, lastErr
}

// runOnce runs a single payload attempt under its own deadline. The
// executor enforces the timeout itself rather than trusting the payload
// to self-limit: the payload runs on a goroutine and an expired deadline
// abandons it.
func (e *Executor) runOnce(ctx context.Context, params map[string]string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Job.Timeout.Std())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.payload.Run(attemptCtx, params)
	}()

	select {
	case err := <-done:
		if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
			return context.DeadlineExceeded
		}
		return err
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	}
}

// emitOutcome queues the terminal notification. Fire-and-forget: a queue
// error is logged and never affects the run's own result.
func (e *Executor) emitOutcome(exec *models.JobExecution, params map[string]string) {
	if e.queue == nil {
		return
	}

	var task *NotifyTask
	switch exec.Status {
	case models.ExecStatusSuccess:
		task = &NotifyTask{
			Channel:  "telegram",
			Category: CategoryDaily,
			Text:     BuildJobSuccessReport(exec, params["SYMBOL"]),
		}
	case models.ExecStatusFailure, models.ExecStatusTimeout:
		task = &NotifyTask{
			Channel:  "telegram",
			Category: CategoryJobFailure(exec.JobName),
			Text:     BuildJobFailedAlert(exec),
		}
	default:
		return
	}

	if err := e.queue.Enqueue(task); err != nil {
		logger.Errorf("[Executor] notification enqueue failed: %v", err)
	}
}
