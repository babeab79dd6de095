package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// Worker drains queued notifications when the async queue is active. It
// runs in the same process as the dispatcher; Redis only carries the
// hand-off so delivery survives a restart between enqueue and send.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher *Dispatcher
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewWorker(cfg *config.RedisConfig, dispatcher *Dispatcher) *Worker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Infof("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server:     server,
		mux:        asynq.NewServeMux(),
		dispatcher: dispatcher,
	}
}

// Start begins draining the queue.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeNotify, w.handleNotifyTask)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[Worker] Starting notification worker...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Infof("[Worker] Server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the worker down and waits for in-flight deliveries.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] Shutdown complete")
}

func (w *Worker) handleNotifyTask(ctx context.Context, t *asynq.Task) error {
	var task NotifyTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Infof("[Worker] Failed to unmarshal task: %v", err)
		return err
	}

	res, err := w.dispatcher.Notify(ctx, task.Channel, task.Category, task.Text)
	if err != nil {
		return err
	}
	// Suppression and delivery failure are terminal outcomes already
	// recorded by the dispatcher; re-queueing would double-send.
	logger.Infof("[Worker] Notification %s: category=%s retries=%d", res.Status, task.Category, res.Retries)
	return nil
}
