package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
)

type fakeTransport struct {
	mu         sync.Mutex
	configured bool
	calls      int
	failFirst  int
	err        error
}

func (f *fakeTransport) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.calls <= f.failFirst {
		return errors.New("flaky transport")
	}
	return nil
}

func (f *fakeTransport) Configured() bool { return f.configured }

func (f *fakeTransport) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func dispatcherFixture(t *testing.T, transport Transport) *Dispatcher {
	t.Helper()
	db := newTestDB(t)
	cfg := config.NotifyConfig{
		DedupWindow:   config.Duration(10 * time.Minute),
		RatePerHour:   5,
		RetryMax:      3,
		RetryBase:     config.Duration(time.Millisecond),
		RetryMaxDelay: config.Duration(5 * time.Millisecond),
	}
	d := NewDispatcher(db, transport, NewAuditService(db), cfg)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestNotifySends(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	res, err := d.Notify(context.Background(), "telegram", CategoryTest, "hello")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !res.Sent() {
		t.Errorf("Status = %q, expected SENT", res.Status)
	}
	if res.Retries != 0 {
		t.Errorf("Retries = %d, expected 0", res.Retries)
	}
}

func TestNotifyDeduplicatesIdenticalContent(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	d.Notify(context.Background(), "telegram", CategoryTest, "same message")
	res, err := d.Notify(context.Background(), "telegram", CategoryTest, "same message")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if res.Status != models.NotifyStatusDeduplicated {
		t.Errorf("Status = %q, expected DEDUPLICATED", res.Status)
	}
	if transport.sends() != 1 {
		t.Errorf("transport called %d times, expected 1", transport.sends())
	}
}

func TestNotifyDedupIgnoresDifferentCategory(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	d.Notify(context.Background(), "telegram", CategoryJobFailure("job-a"), "boom")
	res, _ := d.Notify(context.Background(), "telegram", CategoryJobFailure("job-b"), "boom")
	if res.Status != models.NotifyStatusSent {
		t.Errorf("alerts for different jobs must not suppress each other, got %q", res.Status)
	}
}

func TestNotifyDedupExpiresWithWindow(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	base := time.Now().UTC()
	d.now = func() time.Time { return base }
	d.Notify(context.Background(), "telegram", CategoryTest, "hello")

	d.now = func() time.Time { return base.Add(11 * time.Minute) }
	res, _ := d.Notify(context.Background(), "telegram", CategoryTest, "hello")
	if res.Status != models.NotifyStatusSent {
		t.Errorf("content outside the window should send again, got %q", res.Status)
	}
}

func TestNotifyRateLimitsAtCeiling(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	for i := 0; i < 5; i++ {
		res, err := d.Notify(context.Background(), "telegram", CategoryTest, string(rune('a'+i)))
		if err != nil || res.Status != models.NotifyStatusSent {
			t.Fatalf("send %d: status=%v err=%v", i, res, err)
		}
	}

	res, err := d.Notify(context.Background(), "telegram", CategoryTest, "one too many")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if res.Status != models.NotifyStatusRateLimited {
		t.Errorf("Status = %q, expected RATE_LIMITED", res.Status)
	}
	if transport.sends() != 5 {
		t.Errorf("transport called %d times, expected 5", transport.sends())
	}
}

func TestNotifySuppressedAttemptsDoNotCountTowardCeiling(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	// Many duplicates of one message: only the first counts as SENT.
	for i := 0; i < 10; i++ {
		d.Notify(context.Background(), "telegram", CategoryTest, "repeat")
	}

	res, _ := d.Notify(context.Background(), "telegram", CategoryTest, "fresh content")
	if res.Status != models.NotifyStatusSent {
		t.Errorf("deduplicated attempts must not consume the rate budget, got %q", res.Status)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	transport := &fakeTransport{configured: true, failFirst: 2}
	d := dispatcherFixture(t, transport)

	res, err := d.Notify(context.Background(), "telegram", CategoryTest, "hello")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if res.Status != models.NotifyStatusSent {
		t.Errorf("Status = %q, expected SENT after retries", res.Status)
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, expected 2", res.Retries)
	}
}

func TestNotifyFailsAfterRetriesExhausted(t *testing.T) {
	transport := &fakeTransport{configured: true, err: errors.New("api down")}
	d := dispatcherFixture(t, transport)

	res, err := d.Notify(context.Background(), "telegram", CategoryTest, "hello")
	if err != nil {
		t.Fatalf("Notify should not error on delivery failure: %v", err)
	}
	if res.Status != models.NotifyStatusFailed {
		t.Errorf("Status = %q, expected FAILED", res.Status)
	}
	if res.Retries != 3 {
		t.Errorf("Retries = %d, expected 3", res.Retries)
	}
	if transport.sends() != 4 {
		t.Errorf("transport called %d times, expected 4 (initial + 3 retries)", transport.sends())
	}
}

func TestNotifyEveryOutcomeLeavesAnAttemptRow(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	d.Notify(context.Background(), "telegram", CategoryTest, "hello") // SENT
	d.Notify(context.Background(), "telegram", CategoryTest, "hello") // DEDUPLICATED

	var count int64
	d.db.Model(&models.NotificationAttempt{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 attempt rows, got %d", count)
	}

	var audits int64
	d.db.Model(&models.AuditLog{}).Count(&audits)
	if audits != 2 {
		t.Errorf("expected 2 audit rows, got %d", audits)
	}
}

func TestNotifyStats(t *testing.T) {
	transport := &fakeTransport{configured: true}
	d := dispatcherFixture(t, transport)

	d.Notify(context.Background(), "telegram", CategoryTest, "a")
	d.Notify(context.Background(), "telegram", CategoryTest, "b")
	d.Notify(context.Background(), "telegram", CategoryTest, "b") // dedup

	stats, err := d.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SentLastHour != 2 {
		t.Errorf("SentLastHour = %d, expected 2", stats.SentLastHour)
	}
	if stats.SentLast5Min != 2 {
		t.Errorf("SentLast5Min = %d, expected 2", stats.SentLast5Min)
	}
	if stats.FailuresLastHour != 0 {
		t.Errorf("FailuresLastHour = %d, expected 0", stats.FailuresLastHour)
	}
}

func TestNotifyHealthStates(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		d := dispatcherFixture(t, &fakeTransport{configured: false})
		if got := d.Health(); got != HealthNotConfigured {
			t.Errorf("Health = %q, expected NOT_CONFIGURED", got)
		}
	})

	t.Run("healthy with no failures", func(t *testing.T) {
		transport := &fakeTransport{configured: true}
		d := dispatcherFixture(t, transport)
		d.Notify(context.Background(), "telegram", CategoryTest, "ok")
		if got := d.Health(); got != HealthHealthy {
			t.Errorf("Health = %q, expected HEALTHY", got)
		}
	})

	t.Run("degraded with mixed outcomes", func(t *testing.T) {
		transport := &fakeTransport{configured: true}
		d := dispatcherFixture(t, transport)
		d.Notify(context.Background(), "telegram", CategoryTest, "ok")
		transport.err = errors.New("api down")
		d.Notify(context.Background(), "telegram", CategoryTest, "broken")
		if got := d.Health(); got != HealthDegraded {
			t.Errorf("Health = %q, expected DEGRADED", got)
		}
	})

	t.Run("unhealthy after repeated failures", func(t *testing.T) {
		transport := &fakeTransport{configured: true, err: errors.New("api down")}
		d := dispatcherFixture(t, transport)
		d.Notify(context.Background(), "telegram", CategoryTest, "a")
		d.Notify(context.Background(), "telegram", CategoryTest, "b")
		d.Notify(context.Background(), "telegram", CategoryTest, "c")
		if got := d.Health(); got != HealthUnhealthy {
			t.Errorf("Health = %q, expected UNHEALTHY", got)
		}
	})
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	if fingerprint(CategoryTest, "hello") != fingerprint(CategoryTest, "  hello\n") {
		t.Error("surrounding whitespace should not change the fingerprint")
	}
	if fingerprint(CategoryTest, "hello") == fingerprint(CategoryStartup, "hello") {
		t.Error("category must be part of the fingerprint")
	}
}
