package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
)

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	ticks chan time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t, ticks: make(chan time.Time)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Tick(time.Duration) <-chan time.Time { return c.ticks }

// tickAt moves the clock and delivers one tick. The send completes only
// after the loop has finished its previous iteration and is back in its
// select, so two consecutive calls fence off a full iteration.
func (c *fakeClock) tickAt(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
	c.ticks <- t
}

func schedulerFixture(t *testing.T, clock *fakeClock) (*Scheduler, *LedgerService, *fakePayload) {
	t.Helper()
	db := newTestDB(t)

	cfg := config.DefaultConfig()
	cfg.Scheduler.Hour = 0
	cfg.Scheduler.Minute = 10

	payload := &fakePayload{run: func(ctx context.Context, attempt int) error { return nil }}
	locks := NewLockService(db)
	ledger := NewLedgerService(db)
	audit := NewAuditService(db)
	executor := NewExecutor(locks, ledger, &fakeQueue{}, audit, payload, cfg)
	executor.now = clock.Now
	ledger.now = clock.Now
	locks.now = clock.Now

	sched := NewScheduler(db, executor, audit, cfg)
	sched.clock = clock
	return sched, ledger, payload
}

func TestSchedulerFiresAtConfiguredTime(t *testing.T) {
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(day)
	sched, _, payload := schedulerFixture(t, clock)

	if err := sched.Start(NewLedgerService(sched.db)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	// Before the fire time nothing happens.
	clock.tickAt(day.Add(9 * time.Minute))
	clock.tickAt(day.Add(9*time.Minute + 30*time.Second))
	if payload.callCount() != 0 {
		t.Fatalf("fired before 00:10, payload ran %d times", payload.callCount())
	}

	// At 00:10 the job dispatches.
	clock.tickAt(day.Add(10 * time.Minute))
	clock.tickAt(day.Add(10*time.Minute + 30*time.Second)) // fences the dispatch
	if payload.callCount() != 1 {
		t.Fatalf("payload ran %d times, expected 1", payload.callCount())
	}

	if got := sched.Status().LastRunDate; got != "2026-08-27" {
		t.Errorf("LastRunDate = %q, expected 2026-08-27", got)
	}
}

func TestSchedulerFiresOncePerDay(t *testing.T) {
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(day)
	sched, _, payload := schedulerFixture(t, clock)

	if err := sched.Start(NewLedgerService(sched.db)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	clock.tickAt(day.Add(10 * time.Minute))
	// Later ticks the same day stay quiet.
	clock.tickAt(day.Add(20 * time.Minute))
	clock.tickAt(day.Add(12 * time.Hour))
	clock.tickAt(day.Add(23 * time.Hour))
	if payload.callCount() != 1 {
		t.Fatalf("payload ran %d times in one day, expected 1", payload.callCount())
	}

	// The next day it fires again.
	next := day.AddDate(0, 0, 1)
	clock.tickAt(next.Add(10 * time.Minute))
	clock.tickAt(next.Add(11 * time.Minute))
	if payload.callCount() != 2 {
		t.Errorf("payload ran %d times over two days, expected 2", payload.callCount())
	}
}

func TestSchedulerGuardPersistsAcrossRestart(t *testing.T) {
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(day)
	sched, ledger, payload := schedulerFixture(t, clock)

	if err := sched.Start(NewLedgerService(sched.db)); err != nil {
		t.Fatal(err)
	}
	clock.tickAt(day.Add(10 * time.Minute))
	clock.tickAt(day.Add(11 * time.Minute))
	sched.Stop()
	if payload.callCount() != 1 {
		t.Fatalf("setup: payload ran %d times", payload.callCount())
	}

	// Restart inside the firing window: the persisted guard holds.
	sched2 := NewScheduler(sched.db, sched.executor, sched.audit, sched.cfg)
	sched2.clock = clock
	if err := sched2.Start(ledger); err != nil {
		t.Fatal(err)
	}
	defer sched2.Stop()

	clock.tickAt(day.Add(15 * time.Minute))
	clock.tickAt(day.Add(16 * time.Minute))
	if payload.callCount() != 1 {
		t.Errorf("restart re-fired the same day, payload ran %d times", payload.callCount())
	}
}

func TestSchedulerReconcileTakesNewerOfGuardAndLedger(t *testing.T) {
	day := time.Date(2026, 8, 27, 0, 15, 0, 0, time.UTC)
	clock := newFakeClock(day)
	sched, ledger, _ := schedulerFixture(t, clock)

	// A manual trigger succeeded today but the guard was never written
	// (e.g. the run came through the admin endpoint).
	exec, _ := ledger.Begin(sched.cfg.Job.Name)
	if err := ledger.Finish(exec, models.ExecStatusSuccess, ""); err != nil {
		t.Fatal(err)
	}

	last, err := sched.reconcile(ledger)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if last != "2026-08-27" {
		t.Errorf("reconciled date = %q, expected 2026-08-27", last)
	}

	// And the merged value is persisted.
	persisted, _ := sched.loadLastRun()
	if persisted != "2026-08-27" {
		t.Errorf("persisted guard = %q, expected 2026-08-27", persisted)
	}
}

func TestSchedulerDueRespectsBusinessDays(t *testing.T) {
	saturday := time.Date(2026, 8, 29, 0, 15, 0, 0, time.UTC)
	clock := newFakeClock(saturday)
	db := newTestDB(t)

	cfg := config.DefaultConfig()
	cfg.Scheduler.BusinessDaysOnly = true
	sched := NewScheduler(db, nil, NewAuditService(db), cfg)
	sched.clock = clock

	if sched.due(saturday) {
		t.Error("business-day gate should block a Saturday fire")
	}

	monday := time.Date(2026, 8, 31, 0, 15, 0, 0, time.UTC)
	if !sched.due(monday) {
		t.Error("Monday past the fire time should be due")
	}
}

func TestSchedulerDisabled(t *testing.T) {
	db := newTestDB(t)
	cfg := config.DefaultConfig()
	cfg.Scheduler.Enabled = false

	sched := NewScheduler(db, nil, NewAuditService(db), cfg)
	if err := sched.Start(NewLedgerService(db)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sched.Status().State; got != SchedStateStopped {
		t.Errorf("State = %q, expected STOPPED", got)
	}
	sched.Stop()
}

func TestSchedulerNextFireDate(t *testing.T) {
	day := time.Date(2026, 8, 27, 0, 5, 0, 0, time.UTC)
	clock := newFakeClock(day)
	sched, _, _ := schedulerFixture(t, clock)

	// Today's slot is still open.
	if got := sched.nextFireDate(day); got != "2026-08-27" {
		t.Errorf("nextFireDate = %q, expected 2026-08-27", got)
	}

	// Today consumed: tomorrow.
	sched.lastRunDate = "2026-08-27"
	if got := sched.nextFireDate(day.Add(time.Hour)); got != "2026-08-28" {
		t.Errorf("nextFireDate = %q, expected 2026-08-28", got)
	}
}
