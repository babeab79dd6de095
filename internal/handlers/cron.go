package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fractalworks/jobsentry/internal/services"
)

// CronHandler is the read-only admin surface over the scheduler, the lock
// store, and the execution ledger.
type CronHandler struct {
	scheduler *services.Scheduler
	locks     *services.LockService
	ledger    *services.LedgerService
}

func NewCronHandler(scheduler *services.Scheduler, locks *services.LockService, ledger *services.LedgerService) *CronHandler {
	return &CronHandler{scheduler: scheduler, locks: locks, ledger: ledger}
}

// GetStatus returns the scheduler snapshot, active locks, and the
// trailing 24 hours of execution counters.
func (h *CronHandler) GetStatus(c *gin.Context) {
	locks, err := h.locks.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	execStats, err := h.ledger.StatsSince(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"scheduler": h.scheduler.Status(),
		"stats": gin.H{
			"activeLocksCount":  len(locks),
			"executionsLast24h": execStats.Executions,
			"failuresLast24h":   execStats.Failures,
			"timeoutsLast24h":   execStats.Timeouts,
		},
		"locks": locks,
	})
}

// GetHistory returns executions most recent first, optionally filtered by
// ?job= and capped by ?limit=.
func (h *CronHandler) GetHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	history, err := h.ledger.History(c.Query("job"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}
