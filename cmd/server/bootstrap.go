package main

import (
	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/internal/handlers"
	"github.com/fractalworks/jobsentry/internal/middleware"
	"github.com/fractalworks/jobsentry/internal/models"
	"github.com/fractalworks/jobsentry/internal/services"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	dispatcher *services.Dispatcher
	executor   *services.Executor
	scheduler  *services.Scheduler
	retention  *services.RetentionService
	taskQueue  services.TaskQueue
	worker     *services.Worker

	healthHandler   *handlers.HealthHandler
	telegramHandler *handlers.TelegramHandler
	cronHandler     *handlers.CronHandler
	jobsHandler     *handlers.JobsHandler

	cronValidator middleware.CredentialValidator
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	audit := services.NewAuditService(db)
	locks := services.NewLockService(db)
	ledger := services.NewLedgerService(db)

	// A failed bot init leaves the transport unconfigured; the channel
	// then reports NOT_CONFIGURED instead of taking the process down.
	transport, err := services.NewTelegramTransport(&cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram transport unavailable, notifications disabled")
	}
	dispatcher := services.NewDispatcher(db, transport, audit, cfg.Notify)

	// Task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg, dispatcher)

	var worker *services.Worker
	if cfg.Redis.Enabled && taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, dispatcher)
		if worker != nil {
			worker.Start()
		}
	}

	payload := services.NewCommandPayload(&cfg.Job)
	executor := services.NewExecutor(locks, ledger, taskQueue, audit, payload, cfg)

	scheduler := services.NewScheduler(db, executor, audit, cfg)
	if err := scheduler.Start(ledger); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	retention := services.NewRetentionService(db, cfg.Retention)
	if err := retention.Start(); err != nil {
		logger.Fatalf("Failed to start retention: %v", err)
	}

	return &appServices{
		dispatcher: dispatcher,
		executor:   executor,
		scheduler:  scheduler,
		retention:  retention,
		taskQueue:  taskQueue,
		worker:     worker,

		healthHandler:   handlers.NewHealthHandler(scheduler),
		telegramHandler: handlers.NewTelegramHandler(dispatcher, audit),
		cronHandler:     handlers.NewCronHandler(scheduler, locks, ledger),
		jobsHandler:     handlers.NewJobsHandler(executor, dispatcher, cfg),

		cronValidator: middleware.NewSecretValidator(&cfg.Auth),
	}
}

// announceStartup pushes the boot message through the notification
// pipeline. Dedup in the dispatcher caps a crash-looping process at one
// announcement per window.
func (s *appServices) announceStartup() {
	if err := s.taskQueue.Enqueue(&services.NotifyTask{
		Channel:  "telegram",
		Category: services.CategoryStartup,
		Text:     services.BuildStartupMessage(""),
	}); err != nil {
		logger.Warn().Err(err).Msg("startup announcement failed")
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	s.retention.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
