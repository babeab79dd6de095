package services

import (
	"testing"
	"time"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
)

func TestRetentionTrimDeletesOnlyAgedRows(t *testing.T) {
	db := newTestDB(t)
	svc := NewRetentionService(db, config.RetentionConfig{Days: 90})

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old := now.AddDate(0, 0, -91)
	fresh := now.AddDate(0, 0, -1)

	db.Create(&models.JobExecution{ExecutionID: "old", JobName: "daily-signal", RunDate: "2026-05-28", Status: models.ExecStatusSuccess, StartedAt: old})
	db.Create(&models.JobExecution{ExecutionID: "fresh", JobName: "daily-signal", RunDate: "2026-08-26", Status: models.ExecStatusSuccess, StartedAt: fresh})
	db.Create(&models.NotificationAttempt{AttemptID: "old", Channel: "telegram", ContentHash: "h1", Status: models.NotifyStatusSent, SentAt: old})
	db.Create(&models.NotificationAttempt{AttemptID: "fresh", Channel: "telegram", ContentHash: "h2", Status: models.NotifyStatusSent, SentAt: fresh})
	db.Create(&models.AuditLog{Actor: models.ActorSystem, Action: "notification", Outcome: "SENT", CreatedAt: old})
	db.Create(&models.AuditLog{Actor: models.ActorSystem, Action: "notification", Outcome: "SENT", CreatedAt: fresh})

	if err := svc.Trim(); err != nil {
		t.Fatalf("Trim: %v", err)
	}

	var execs, notifs, audits int64
	db.Model(&models.JobExecution{}).Count(&execs)
	db.Model(&models.NotificationAttempt{}).Count(&notifs)
	db.Model(&models.AuditLog{}).Count(&audits)

	if execs != 1 || notifs != 1 || audits != 1 {
		t.Errorf("expected 1 row per table after trim, got execs=%d notifs=%d audits=%d", execs, notifs, audits)
	}

	var kept models.JobExecution
	db.First(&kept)
	if kept.ExecutionID != "fresh" {
		t.Errorf("trim removed the wrong execution row: %q", kept.ExecutionID)
	}
}

func TestRetentionDisabledByNonPositiveDays(t *testing.T) {
	db := newTestDB(t)
	svc := NewRetentionService(db, config.RetentionConfig{Days: 0})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if svc.cron != nil {
		t.Error("retention should not schedule when disabled")
	}
	svc.Stop()
}
