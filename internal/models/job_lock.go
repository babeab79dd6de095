package models

import "time"

// JobLock is the distributed advisory lock for a named job. At most one
// row exists per job name; a row whose ExpiresAt has passed is logically
// absent and must not block a fresh acquisition.
type JobLock struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	JobName    string    `gorm:"uniqueIndex;size:100;not null" json:"jobName"`
	HolderID   string    `gorm:"size:64;not null" json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `gorm:"index" json:"expiresAt"`
}

func (JobLock) TableName() string { return "job_locks" }

// Expired reports whether the lock is past its TTL at the given instant.
func (l *JobLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
