package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/internal/services"
)

// TelegramHandler exposes the notification channel's health, stats, and
// the hardened-pipeline test endpoint.
type TelegramHandler struct {
	dispatcher *services.Dispatcher
	audit      *services.AuditService
}

func NewTelegramHandler(dispatcher *services.Dispatcher, audit *services.AuditService) *TelegramHandler {
	return &TelegramHandler{dispatcher: dispatcher, audit: audit}
}

// GetHealth returns the channel health enum.
func (h *TelegramHandler) GetHealth(c *gin.Context) {
	status := services.HealthNotInitialized
	if h.dispatcher != nil {
		status = h.dispatcher.Health()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     status == services.HealthHealthy,
		"status": status,
	})
}

// GetStats returns rolling delivery counters plus recent audit entries.
func (h *TelegramHandler) GetStats(c *gin.Context) {
	stats, err := h.dispatcher.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	auditLog, err := h.audit.Recent(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":    stats,
		"auditLog": auditLog,
	})
}

// SendTest pushes a test message through the full hardened pipeline; the
// response reflects the pipeline's verdict, including suppression.
func (h *TelegramHandler) SendTest(c *gin.Context) {
	res, err := h.dispatcher.Notify(c.Request.Context(), "telegram",
		services.CategoryTest, services.BuildTestMessage())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": res.Sent(),
		"result": gin.H{
			"ok":           res.Sent(),
			"status":       res.Status,
			"retries":      res.Retries,
			"rateLimited":  res.Status == models.NotifyStatusRateLimited,
			"deduplicated": res.Status == models.NotifyStatusDeduplicated,
			"timestamp":    res.Timestamp,
		},
	})
}
