package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/receipt-processor/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// Config binds one consumer to one queue.
type Config struct {
	Redis           asynq.RedisClientOpt
	Queue           string
	Concurrency     int
	ShutdownTimeout time.Duration
}

// BaseWorker owns the asynq server and mux shared by the stage workers.
type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	queue    string
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewBaseWorker builds a server that consumes cfg.Queue only. Concurrency
// defaults to 1: jobs on a stage run strictly one after another.
func NewBaseWorker(cfg *Config, log logger.Logger) (*BaseWorker, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("worker: queue name is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	log = log.Named("worker").With(logger.String("queue", cfg.Queue))
	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{log: log.Named("asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("Task returned an error",
				logger.String("type", task.Type()),
				logger.String("payload", string(task.Payload())),
				logger.Error(err),
			)
		}),
	})

	return &BaseWorker{
		server:   server,
		mux:      asynq.NewServeMux(),
		logger:   log,
		queue:    cfg.Queue,
		stopChan: make(chan struct{}),
	}, nil
}

// Handle registers a handler for a task type.
func (w *BaseWorker) Handle(taskType string, h asynq.Handler) {
	w.mux.Handle(taskType, h)
}

// Start begins consuming and stops when ctx is cancelled.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker for %s: %w", w.queue, err)
	}
	w.logger.Info("Worker started")

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

// Stop waits for the in-flight task (up to the shutdown timeout) and exits.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Shutdown()
		w.logger.Info("Worker stopped")
	})
	return nil
}

// Queue is the queue this worker consumes.
func (w *BaseWorker) Queue() string {
	return w.queue
}

// Done is closed once Stop has been called.
func (w *BaseWorker) Done() <-chan struct{} {
	return w.stopChan
}

// asynqLogger routes asynq's internal logs through our logger.
type asynqLogger struct {
	log logger.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
