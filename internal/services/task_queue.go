package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

const TaskTypeNotify = "notify:dispatch"

// NotifyTask is a queued fire-and-forget notification. The executor
// emits through this queue so its own terminal-status reporting never
// waits on the outbound transport.
type NotifyTask struct {
	Channel  string `json:"channel"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// TaskQueue is the delivery decoupling point between the job executor
// and the notification dispatcher.
type TaskQueue interface {
	// Enqueue hands a notification off for delivery.
	Enqueue(task *NotifyTask) error
	// IsAsync reports whether delivery happens out of process order.
	IsAsync() bool
	// Close shuts the queue down.
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue picks the queue implementation: Redis-backed asynq when
// enabled and reachable, in-process dispatch otherwise.
func InitTaskQueue(cfg *config.Config, dispatcher *Dispatcher) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue(dispatcher)
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue(dispatcher)
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the process-wide queue instance.
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue on asynq (Redis).
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection up front so startup can fall back to sync.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *NotifyTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeNotify, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Notification enqueued: id=%s, category=%s", info.ID, task.Category)
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error { return q.client.Close() }

// SyncQueue delivers in-process. Dispatch still must not block the
// caller, so delivery runs on its own goroutine.
type SyncQueue struct {
	dispatcher *Dispatcher
}

func NewSyncQueue(dispatcher *Dispatcher) *SyncQueue {
	return &SyncQueue{dispatcher: dispatcher}
}

func (q *SyncQueue) Enqueue(task *NotifyTask) error {
	if q.dispatcher == nil {
		return nil
	}
	go func() {
		if _, err := q.dispatcher.Notify(context.Background(), task.Channel, task.Category, task.Text); err != nil {
			logger.Errorf("[SyncQueue] dispatch failed: %v", err)
		}
	}()
	return nil
}

func (q *SyncQueue) IsAsync() bool { return false }

func (q *SyncQueue) Close() error { return nil }
