package models

import "time"

// SchedulerState persists the scheduler loop's coarse once-per-day guard
// so a restarted process inside the firing minute does not dispatch a
// second run. LastRunDate is a UTC calendar date (YYYY-MM-DD).
type SchedulerState struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	JobName     string    `gorm:"uniqueIndex;size:100;not null" json:"jobName"`
	LastRunDate string    `gorm:"size:10" json:"lastRunDate"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (SchedulerState) TableName() string { return "scheduler_states" }
