package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/internal/services"
)

// HealthHandler reports overall service health.
type HealthHandler struct {
	scheduler *services.Scheduler
}

func NewHealthHandler(scheduler *services.Scheduler) *HealthHandler {
	return &HealthHandler{scheduler: scheduler}
}

// CheckHealth returns the status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	taskQueue := services.GetTaskQueue()
	queueMode := "sync"
	if taskQueue != nil && taskQueue.IsAsync() {
		queueMode = "async (Redis)"
	}

	schedState := services.SchedStateStopped
	if h.scheduler != nil {
		schedState = h.scheduler.Status().State
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      overall == "healthy",
		"status":  overall,
		"service": "jobsentry",
		"components": gin.H{
			"database":   dbStatus,
			"queue_mode": queueMode,
			"scheduler":  schedState,
		},
	})
}
