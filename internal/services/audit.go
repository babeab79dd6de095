package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// AuditService appends externally observable decisions to the audit
// trail. Writes are best-effort: an audit failure is logged, never
// propagated into the decision it records.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

func (s *AuditService) Record(actor, action, outcome, detail string) {
	entry := &models.AuditLog{
		Actor:     actor,
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(entry).Error; err != nil {
		logger.Errorf("[Audit] failed to record %s/%s: %v", action, outcome, err)
	}
}

// Recent returns the newest entries, most recent first.
func (s *AuditService) Recent(limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AuditLog
	err := s.db.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
