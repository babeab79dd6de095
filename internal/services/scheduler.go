package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// Clock abstracts wall-clock reads and ticking so the scheduler loop can
// be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Tick(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Tick(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler states for the admin surface.
const (
	SchedStateStopped     = "STOPPED"
	SchedStateWaiting     = "WAITING"
	SchedStateDispatching = "DISPATCHING"
)

// SchedulerStatus is the snapshot reported by cron/status.
type SchedulerStatus struct {
	Enabled      bool   `json:"enabled"`
	State        string `json:"state"`
	JobName      string `json:"jobName"`
	FireTime     string `json:"fireTime"`
	LastRunDate  string `json:"lastRunDate"`
	NextFireDate string `json:"nextFireDate"`
}

// Scheduler is the coarse daily loop: it polls the clock and dispatches
// the job through the executor at the configured UTC wall time, at most
// once per UTC calendar date. The once-per-day guard is persisted and
// advanced before dispatch, so a crash mid-run burns the day rather than
// double-firing; the executor's own idempotency and lock layers remain
// the real defense.
type Scheduler struct {
	db       *gorm.DB
	executor *Executor
	audit    *AuditService
	cfg      *config.Config
	clock    Clock
	calendar *cal.BusinessCalendar

	mu          sync.Mutex
	state       string
	lastRunDate string

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(db *gorm.DB, executor *Executor, audit *AuditService, cfg *config.Config) *Scheduler {
	s := &Scheduler{
		db:       db,
		executor: executor,
		audit:    audit,
		cfg:      cfg,
		clock:    realClock{},
		state:    SchedStateStopped,
	}
	if cfg.Scheduler.BusinessDaysOnly {
		c := cal.NewBusinessCalendar()
		c.AddHoliday(us.Holidays...)
		s.calendar = c
	}
	return s
}

// Start loads the persisted guard, reconciles it against the execution
// ledger, and launches the polling loop.
func (s *Scheduler) Start(ledger *LedgerService) error {
	if !s.cfg.Scheduler.Enabled {
		logger.Infof("[Scheduler] Disabled by config")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SchedStateStopped {
		return nil
	}

	last, err := s.reconcile(ledger)
	if err != nil {
		return fmt.Errorf("scheduler state reconcile: %w", err)
	}
	s.lastRunDate = last

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = SchedStateWaiting

	go s.loop(ctx)

	logger.Infof("[Scheduler] Started: fires daily at %02d:%02d UTC, poll every %s, last run %q",
		s.cfg.Scheduler.Hour, s.cfg.Scheduler.Minute, s.cfg.Scheduler.PollInterval.Std(), last)
	return nil
}

// Stop halts the loop and waits for an in-flight dispatch to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == SchedStateStopped {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.state = SchedStateStopped
	s.mu.Unlock()
	logger.Infof("[Scheduler] Stopped")
}

// Status returns the current snapshot for the admin surface.
func (s *Scheduler) Status() *SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &SchedulerStatus{
		Enabled:     s.cfg.Scheduler.Enabled,
		State:       s.state,
		JobName:     s.cfg.Job.Name,
		FireTime:    fmt.Sprintf("%02d:%02d UTC", s.cfg.Scheduler.Hour, s.cfg.Scheduler.Minute),
		LastRunDate: s.lastRunDate,
	}
	if s.cfg.Scheduler.Enabled {
		status.NextFireDate = s.nextFireDate(s.clock.Now())
	}
	return status
}

// loop is the WAITING/DISPATCHING state machine. Each tick compares the
// wall clock against the fire time; firing and the guard write happen on
// the loop goroutine, so the two states never overlap.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.Tick(s.cfg.Scheduler.PollInterval.Std()):
		}

		now := s.clock.Now().UTC()
		if !s.due(now) {
			continue
		}

		s.setState(SchedStateDispatching)
		s.fire(ctx, now)
		s.setState(SchedStateWaiting)
	}
}

// due reports whether the current tick should dispatch: past today's fire
// time, today not yet consumed, and (optionally) a business day.
func (s *Scheduler) due(now time.Time) bool {
	fireAt := time.Date(now.Year(), now.Month(), now.Day(),
		s.cfg.Scheduler.Hour, s.cfg.Scheduler.Minute, 0, 0, time.UTC)
	if now.Before(fireAt) {
		return false
	}

	s.mu.Lock()
	consumed := s.lastRunDate == utcDate(now)
	s.mu.Unlock()
	if consumed {
		return false
	}

	if s.calendar != nil && !s.calendar.IsWorkday(now) {
		return false
	}
	return true
}

// fire consumes today's slot and dispatches the job synchronously.
func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	today := utcDate(now)

	// Advance the guard before dispatch. If the process dies mid-run the
	// day is spent; retrying a half-finished day is the executor's call,
	// not the loop's.
	if err := s.persistLastRun(today); err != nil {
		logger.Errorf("[Scheduler] failed to persist run guard: %v", err)
		return
	}
	s.mu.Lock()
	s.lastRunDate = today
	s.mu.Unlock()

	logger.Infof("[Scheduler] Dispatching %s for %s", s.cfg.Job.Name, today)

	params := map[string]string{}
	if len(s.cfg.Job.Symbols) > 0 {
		params["SYMBOL"] = s.cfg.Job.Symbols[0]
	}

	res, err := s.executor.Run(ctx, s.cfg.Job.Name, models.ActorScheduler, params)
	if err != nil {
		logger.Errorf("[Scheduler] dispatch error: %v", err)
		s.audit.Record(models.ActorScheduler, "scheduler-fire", "ERROR", err.Error())
		return
	}
	logger.Infof("[Scheduler] Run %s finished: %s", res.ExecutionID, res.Status)
}

// reconcile merges the persisted guard with the ledger's view: the most
// recent of the two wins. The ledger can be ahead when a manual trigger
// succeeded after the last scheduled fire.
func (s *Scheduler) reconcile(ledger *LedgerService) (string, error) {
	persisted, err := s.loadLastRun()
	if err != nil {
		return "", err
	}
	fromLedger, err := ledger.LastSuccessDate(s.cfg.Job.Name)
	if err != nil {
		return "", err
	}

	last := persisted
	if fromLedger > last {
		last = fromLedger
	}
	if last != persisted {
		if err := s.persistLastRun(last); err != nil {
			return "", err
		}
	}
	return last, nil
}

func (s *Scheduler) loadLastRun() (string, error) {
	var state models.SchedulerState
	err := s.db.Where("job_name = ?", s.cfg.Job.Name).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.LastRunDate, nil
}

func (s *Scheduler) persistLastRun(date string) error {
	state := &models.SchedulerState{
		JobName:     s.cfg.Job.Name,
		LastRunDate: date,
		UpdatedAt:   s.clock.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run_date", "updated_at"}),
	}).Create(state).Error
}

func (s *Scheduler) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// nextFireDate computes the next UTC date the loop will dispatch on.
func (s *Scheduler) nextFireDate(now time.Time) string {
	now = now.UTC()

	day := now
	if s.lastRunDate == utcDate(now) {
		day = now.AddDate(0, 0, 1)
	}
	if s.calendar != nil {
		for i := 0; i < 366 && !s.calendar.IsWorkday(day); i++ {
			day = day.AddDate(0, 0, 1)
		}
	}
	return utcDate(day)
}
