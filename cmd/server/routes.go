package main

import (
	"github.com/gin-gonic/gin"

	"github.com/fractalworks/jobsentry/internal/middleware"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for the protected trigger route
	triggerLimiter := middleware.NewRateLimiter(10, 20)

	// Liveness probe, no dependencies touched
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "jobsentry"})
	})

	// API routes
	api := r.Group("/api")
	{
		api.GET("/health", svc.healthHandler.CheckHealth)

		telegram := api.Group("/telegram")
		{
			telegram.GET("/health", svc.telegramHandler.GetHealth)
			telegram.GET("/stats", svc.telegramHandler.GetStats)
			telegram.POST("/test-hardened", svc.telegramHandler.SendTest)
		}

		cron := api.Group("/cron")
		{
			cron.GET("/status", svc.cronHandler.GetStatus)
			cron.GET("/history", svc.cronHandler.GetHistory)
		}

		// Trigger route: bearer credential required, rate limited
		jobs := api.Group("/jobs", triggerLimiter.Middleware(),
			middleware.CronAuthRequired(svc.cronValidator))
		{
			jobs.POST("/daily-run-hardened", svc.jobsHandler.TriggerDailyRun)
		}

		api.POST("/notify/startup", svc.jobsHandler.NotifyStartup)
	}
}
