package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// LockService implements the distributed advisory lock over the shared
// database. Acquisition is an atomic check-and-set: expired rows for the
// job are cleared and a fresh row inserted inside one transaction, with
// the unique index on job_name arbitrating concurrent acquirers — exactly
// one insert wins. A holder that crashes never needs recovery; its row
// simply expires after the TTL.
type LockService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLockService(db *gorm.DB) *LockService {
	return &LockService{db: db, now: time.Now}
}

// Acquire attempts to take the lock for jobName. ok is false when a
// non-expired lock is already held by someone else.
func (s *LockService) Acquire(jobName string, ttl time.Duration) (*models.JobLock, bool, error) {
	now := s.now().UTC()
	lock := &models.JobLock{
		JobName:    jobName,
		HolderID:   uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_name = ? AND expires_at <= ?", jobName, now).
			Delete(&models.JobLock{}).Error; err != nil {
			return err
		}
		return tx.Create(lock).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", jobName, err)
	}

	logger.Debug().Str("job", jobName).Str("holder", lock.HolderID).
		Time("expires_at", lock.ExpiresAt).Msg("lock acquired")
	return lock, true, nil
}

// Release drops the holder's lock. Releasing an expired or already
// released lock is a no-op, not an error.
func (s *LockService) Release(lock *models.JobLock) error {
	if lock == nil {
		return nil
	}
	err := s.db.Where("job_name = ? AND holder_id = ?", lock.JobName, lock.HolderID).
		Delete(&models.JobLock{}).Error
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lock.JobName, err)
	}
	return nil
}

// IsHeld reports whether a non-expired lock exists for jobName.
func (s *LockService) IsHeld(jobName string) (bool, error) {
	var count int64
	err := s.db.Model(&models.JobLock{}).
		Where("job_name = ? AND expires_at > ?", jobName, s.now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// ListActive returns all non-expired locks.
func (s *LockService) ListActive() ([]models.JobLock, error) {
	var locks []models.JobLock
	err := s.db.Where("expires_at > ?", s.now().UTC()).Find(&locks).Error
	return locks, err
}
