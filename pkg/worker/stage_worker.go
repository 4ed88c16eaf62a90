package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

// StageHandler processes one job of a pipeline stage. Handlers record
// failures on the document themselves and return nil; a returned error is
// reported to the broker.
type StageHandler interface {
	Handle(ctx context.Context, job queue.Job) error
}

type StageHandlerFunc func(ctx context.Context, job queue.Job) error

func (f StageHandlerFunc) Handle(ctx context.Context, job queue.Job) error {
	return f(ctx, job)
}

// StageWorker consumes one pipeline queue and feeds decoded jobs to a StageHandler.
type StageWorker struct {
	*BaseWorker
	taskType string
	handler  StageHandler
}

func NewStageWorker(cfg *Config, handler StageHandler, log logger.Logger) (*StageWorker, error) {
	taskType, err := queue.TaskTypeFor(cfg.Queue)
	if err != nil {
		return nil, err
	}
	base, err := NewBaseWorker(cfg, log)
	if err != nil {
		return nil, err
	}

	w := &StageWorker{
		BaseWorker: base,
		taskType:   taskType,
		handler:    handler,
	}
	w.registerHandlers()
	return w, nil
}

func (w *StageWorker) registerHandlers() {
	w.mux.HandleFunc(w.taskType, w.ProcessTask)
}

// ProcessTask is the asynq entry point.
func (w *StageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	job, err := queue.ParseJob(t)
	if err != nil {
		w.logger.Error("Failed to decode job",
			logger.String("payload", string(t.Payload())),
			logger.Error(err),
		)
		return err
	}

	log := w.logger.With(
		logger.String("documentId", job.DocumentID),
		logger.String("fileId", job.FileID),
	)
	log.Info("Received job")

	start := time.Now()
	ctx = logger.WithDocumentID(ctx, job.DocumentID)
	if err := w.handler.Handle(ctx, job); err != nil {
		w.writeResult(t, fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
		return err
	}

	w.writeResult(t, `{"status":"handled"}`)
	log.Info("Job handled", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// writeResult is best-effort; tasks built outside a server have no writer.
func (w *StageWorker) writeResult(t *asynq.Task, body string) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	if _, err := rw.Write([]byte(body)); err != nil {
		w.logger.Warn("Failed to write task result", logger.Error(err))
	}
}
