package models

import "time"

// Audit actors.
const (
	ActorScheduler = "scheduler"
	ActorAdmin     = "admin"
	ActorSystem    = "system"
)

// AuditLog is the append-only trail of externally observable decisions:
// lock granted/denied, run skipped, execution terminal states,
// notification sent/suppressed. Ordered by CreatedAt.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Actor     string    `gorm:"size:16;not null" json:"actor"`
	Action    string    `gorm:"size:64;not null" json:"action"`
	Outcome   string    `gorm:"size:32;not null" json:"outcome"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`
}

func (AuditLog) TableName() string { return "audit_logs" }
