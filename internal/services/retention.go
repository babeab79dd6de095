package services

import (
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// RetentionService trims aged execution, notification and audit rows on a
// nightly cron. History older than the configured window has no consumer:
// the idempotency check only looks at today and the stats windows span at
// most 24 hours.
type RetentionService struct {
	db   *gorm.DB
	cfg  config.RetentionConfig
	cron *cron.Cron
	now  func() time.Time
}

func NewRetentionService(db *gorm.DB, cfg config.RetentionConfig) *RetentionService {
	return &RetentionService{
		db:  db,
		cfg: cfg,
		now: time.Now,
	}
}

// Start schedules the nightly trim. Days <= 0 disables retention.
func (s *RetentionService) Start() error {
	if s.cfg.Days <= 0 {
		logger.Infof("[Retention] Disabled (retention.days <= 0)")
		return nil
	}

	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc("30 1 * * *", func() {
		if err := s.Trim(); err != nil {
			logger.Errorf("[Retention] trim failed: %v", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()

	logger.Infof("[Retention] Trimming history older than %d days, nightly at 01:30 UTC", s.cfg.Days)
	return nil
}

// Stop halts the cron and waits for a running trim to finish.
func (s *RetentionService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Trim deletes rows older than the retention window.
func (s *RetentionService) Trim() error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.Days)

	execs := s.db.Where("started_at < ?", cutoff).Delete(&models.JobExecution{})
	if execs.Error != nil {
		return execs.Error
	}
	notifs := s.db.Where("sent_at < ?", cutoff).Delete(&models.NotificationAttempt{})
	if notifs.Error != nil {
		return notifs.Error
	}
	audits := s.db.Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if audits.Error != nil {
		return audits.Error
	}

	if n := execs.RowsAffected + notifs.RowsAffected + audits.RowsAffected; n > 0 {
		logger.Infof("[Retention] Trimmed %d rows older than %s", n, cutoff.Format("2006-01-02"))
	}
	return nil
}
