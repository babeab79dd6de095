package models

import "time"

// Notification attempt statuses. DEDUPLICATED and RATE_LIMITED are
// expected suppression outcomes, not errors.
const (
	NotifyStatusSent         = "SENT"
	NotifyStatusDeduplicated = "DEDUPLICATED"
	NotifyStatusRateLimited  = "RATE_LIMITED"
	NotifyStatusFailed       = "FAILED"
)

// NotificationAttempt records one dispatch call, whatever its outcome.
// Rows are immutable once written and back the rolling-window stats.
type NotificationAttempt struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	AttemptID   string    `gorm:"size:36;not null" json:"attemptId"`
	Channel     string    `gorm:"index;size:50;not null" json:"channel"`
	Category    string    `gorm:"size:100" json:"category"`
	ContentHash string    `gorm:"index;size:64;not null" json:"contentHash"`
	Status      string    `gorm:"size:16;not null" json:"status"`
	Retries     int       `json:"retries"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	SentAt      time.Time `gorm:"index" json:"sentAt"`
}

func (NotificationAttempt) TableName() string { return "notification_attempts" }
