package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// Notification health statuses, normalized from transport state and the
// trailing hour of attempt outcomes. NOT_CONFIGURED and NOT_INITIALIZED
// are pre-dispatch states, distinct from delivery failures.
const (
	HealthHealthy        = "HEALTHY"
	HealthDegraded       = "DEGRADED"
	HealthUnhealthy      = "UNHEALTHY"
	HealthNotConfigured  = "NOT_CONFIGURED"
	HealthNotInitialized = "NOT_INITIALIZED"
)

// NotificationResult is the terminal outcome of one dispatch call.
type NotificationResult struct {
	Status    string    `json:"status"`
	Retries   int       `json:"retries"`
	Timestamp time.Time `json:"timestamp"`
}

// Sent reports whether the message actually went out.
func (r *NotificationResult) Sent() bool {
	return r.Status == models.NotifyStatusSent
}

// NotifyStats are the rolling-window counters for the admin surface.
type NotifyStats struct {
	SentLast5Min        int64 `json:"sentLast5Min"`
	SentLastHour        int64 `json:"sentLastHour"`
	FailuresLastHour    int64 `json:"failuresLastHour"`
	RateLimitedLastHour int64 `json:"rateLimitedLastHour"`
}

// Dispatcher is the hardened notification pipeline: content fingerprint
// dedup, per-channel hourly rate limiting, bounded-retry delivery, and an
// immutable attempt ledger feeding stats and audit.
type Dispatcher struct {
	db        *gorm.DB
	transport Transport
	audit     *AuditService
	cfg       config.NotifyConfig
	now       func() time.Time
	// sleep is swapped in tests so backoff does not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(db *gorm.DB, transport Transport, audit *AuditService, cfg config.NotifyConfig) *Dispatcher {
	return &Dispatcher{
		db:        db,
		transport: transport,
		audit:     audit,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fingerprint hashes the logical category plus the normalized message
// body; identical content inside the dedup window maps to the same hash.
func fingerprint(category, text string) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// Notify runs the full dispatch pipeline and always leaves behind one
// NotificationAttempt and one audit entry, whatever the outcome.
func (d *Dispatcher) Notify(ctx context.Context, channel, category, text string) (*NotificationResult, error) {
	now := d.now().UTC()
	hash := fingerprint(category, text)

	dup, err := d.sentWithin(channel, hash, d.cfg.DedupWindow.Std(), now)
	if err != nil {
		return nil, err
	}
	if dup {
		return d.finish(channel, category, hash, models.NotifyStatusDeduplicated, 0, "", now), nil
	}

	limited, err := d.overHourlyCeiling(channel, now)
	if err != nil {
		return nil, err
	}
	if limited {
		return d.finish(channel, category, hash, models.NotifyStatusRateLimited, 0, "", now), nil
	}

	retries, sendErr := d.sendWithRetry(ctx, text)
	if sendErr != nil {
		return d.finish(channel, category, hash, models.NotifyStatusFailed, retries, sendErr.Error(), d.now().UTC()), nil
	}
	return d.finish(channel, category, hash, models.NotifyStatusSent, retries, "", d.now().UTC()), nil
}

// sentWithin reports whether an identical message was successfully sent
// on the channel inside the dedup window.
func (d *Dispatcher) sentWithin(channel, hash string, window time.Duration, now time.Time) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	var count int64
	err := d.db.Model(&models.NotificationAttempt{}).
		Where("channel = ? AND content_hash = ? AND status = ? AND sent_at > ?",
			channel, hash, models.NotifyStatusSent, now.Add(-window)).
		Count(&count).Error
	return count > 0, err
}

// overHourlyCeiling checks the trailing-hour SENT count against the
// configured per-channel ceiling. Suppressed attempts never count toward
// it, so rate limiting cannot starve itself open.
func (d *Dispatcher) overHourlyCeiling(channel string, now time.Time) (bool, error) {
	var count int64
	err := d.db.Model(&models.NotificationAttempt{}).
		Where("channel = ? AND status = ? AND sent_at > ?",
			channel, models.NotifyStatusSent, now.Add(-time.Hour)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count >= int64(d.cfg.RatePerHour), nil
}

// sendWithRetry delivers through the transport with bounded exponential
// backoff, returning the cumulative retry count used.
func (d *Dispatcher) sendWithRetry(ctx context.Context, text string) (int, error) {
	var lastErr error
	delay := d.cfg.RetryBase.Std()

	for attempt := 0; attempt <= d.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				return attempt - 1, lastErr
			}
			delay *= 2
			if ceiling := d.cfg.RetryMaxDelay.Std(); delay > ceiling {
				delay = ceiling
			}
		}

		lastErr = d.transport.Send(ctx, text)
		if lastErr == nil {
			return attempt, nil
		}
		logger.Warn().Int("attempt", attempt).Err(lastErr).Msg("notification send failed")
	}
	return d.cfg.RetryMax, lastErr
}

// finish persists the attempt and its audit entry, and builds the result.
func (d *Dispatcher) finish(channel, category, hash, status string, retries int, errMsg string, at time.Time) *NotificationResult {
	attempt := &models.NotificationAttempt{
		AttemptID:   uuid.NewString(),
		Channel:     channel,
		Category:    category,
		ContentHash: hash,
		Status:      status,
		Retries:     retries,
		Error:       errMsg,
		SentAt:      at,
	}
	if err := d.db.Create(attempt).Error; err != nil {
		logger.Errorf("[Notify] failed to record attempt: %v", err)
	}

	outcome := status
	detail := fmt.Sprintf("channel=%s category=%s retries=%d", channel, category, retries)
	if errMsg != "" {
		detail += " error=" + errMsg
	}
	d.audit.Record(models.ActorSystem, "notification", outcome, detail)

	return &NotificationResult{Status: status, Retries: retries, Timestamp: at}
}

// Stats computes the rolling-window counters from the attempt ledger.
func (d *Dispatcher) Stats() (*NotifyStats, error) {
	now := d.now().UTC()
	stats := &NotifyStats{}

	counts := []struct {
		dest   *int64
		status string
		since  time.Time
	}{
		{&stats.SentLast5Min, models.NotifyStatusSent, now.Add(-5 * time.Minute)},
		{&stats.SentLastHour, models.NotifyStatusSent, now.Add(-time.Hour)},
		{&stats.FailuresLastHour, models.NotifyStatusFailed, now.Add(-time.Hour)},
		{&stats.RateLimitedLastHour, models.NotifyStatusRateLimited, now.Add(-time.Hour)},
	}
	for _, c := range counts {
		err := d.db.Model(&models.NotificationAttempt{}).
			Where("status = ? AND sent_at > ?", c.status, c.since).
			Count(c.dest).Error
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// Health derives the coarse channel status. Transport configuration wins
// over delivery history; delivery history only distinguishes HEALTHY,
// DEGRADED and UNHEALTHY.
func (d *Dispatcher) Health() string {
	if d.transport == nil || !d.transport.Configured() {
		return HealthNotConfigured
	}

	now := d.now().UTC()
	var sent, failed int64
	d.db.Model(&models.NotificationAttempt{}).
		Where("status = ? AND sent_at > ?", models.NotifyStatusSent, now.Add(-time.Hour)).
		Count(&sent)
	d.db.Model(&models.NotificationAttempt{}).
		Where("status = ? AND sent_at > ?", models.NotifyStatusFailed, now.Add(-time.Hour)).
		Count(&failed)

	switch {
	case failed == 0:
		return HealthHealthy
	case sent == 0 && failed >= 3:
		return HealthUnhealthy
	default:
		return HealthDegraded
	}
}
