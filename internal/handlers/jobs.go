package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/internal/services"
)

// JobsHandler owns the protected trigger endpoint and the startup
// announcement hook.
type JobsHandler struct {
	executor   *services.Executor
	dispatcher *services.Dispatcher
	cfg        *config.Config
}

func NewJobsHandler(executor *services.Executor, dispatcher *services.Dispatcher, cfg *config.Config) *JobsHandler {
	return &JobsHandler{executor: executor, dispatcher: dispatcher, cfg: cfg}
}

type dailyRunRequest struct {
	Symbol string `json:"symbol"`
}

// TriggerDailyRun runs the daily job synchronously. The response always
// reflects the run's terminal state: started executions report their
// outcome, suppressed ones report why.
func (h *JobsHandler) TriggerDailyRun(c *gin.Context) {
	var req dailyRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" && len(h.cfg.Job.Symbols) > 0 {
		symbol = h.cfg.Job.Symbols[0]
	}
	if !h.symbolAllowed(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "SYMBOL_NOT_SUPPORTED",
			"symbol": symbol,
		})
		return
	}

	// The run outlives the request connection. A client disconnect must
	// not kill a job in flight; only the executor's own per-attempt
	// timeout abandons the payload.
	runCtx := context.WithoutCancel(c.Request.Context())
	res, err := h.executor.Run(runCtx, h.cfg.Job.Name, models.ActorAdmin,
		map[string]string{"SYMBOL": symbol})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if res.Skipped() {
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"skipped":    true,
			"skipReason": res.SkipReason,
			"jobId":      res.ExecutionID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": res.Status == models.ExecStatusSuccess,
		"jobId":   res.ExecutionID,
		"status":  res.Status,
	})
}

func (h *JobsHandler) symbolAllowed(symbol string) bool {
	for _, s := range h.cfg.Job.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// NotifyStartup pushes the boot announcement through the pipeline.
func (h *JobsHandler) NotifyStartup(c *gin.Context) {
	res, err := h.dispatcher.Notify(c.Request.Context(), "telegram",
		services.CategoryStartup, services.BuildStartupMessage(""))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": res.Sent(), "status": res.Status})
}
