package services

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fractalworks/jobsentry/internal/models"
)

var testDBSeq atomic.Int64

// newTestDB opens a fresh in-memory database per test. Shared cache keeps
// the database alive across the pool's connections; a single open
// connection keeps concurrent writers serialized the way a server-grade
// database would serialize conflicting transactions.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared&_busy_timeout=5000", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.JobLock{},
		&models.JobExecution{},
		&models.NotificationAttempt{},
		&models.AuditLog{},
		&models.SchedulerState{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
