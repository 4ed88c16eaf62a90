// Package extraction is the first pipeline stage: OCR the stored upload and
// record its raw text.
package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/feichai0017/receipt-processor/internal/agent"
	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
	"github.com/feichai0017/receipt-processor/internal/service"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
	"github.com/feichai0017/receipt-processor/pkg/storage"
)

const stage = "extraction"

// Store is the slice of persistence the stage needs.
type Store interface {
	repository.Documents
	repository.Files
	repository.RawTexts
}

type Config struct {
	FailWriteTimeout time.Duration
}

type Worker struct {
	store    Store
	storage  storage.Storage
	detector document.Detector
	queue    queue.Enqueuer
	failures *service.FailureRecorder
	logger   logger.Logger
}

func NewWorker(cfg Config, store Store, st storage.Storage, detector document.Detector, q queue.Enqueuer, log logger.Logger) *Worker {
	return &Worker{
		store:    store,
		storage:  st,
		detector: detector,
		queue:    q,
		failures: service.NewFailureRecorder(store, cfg.FailWriteTimeout),
		logger:   log.Named(stage),
	}
}

// Handle runs one text-extraction job. Failures end up on the document, so
// only an interrupted job returns an error.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	log := w.logger.With(
		logger.String("documentId", job.DocumentID),
		logger.String("fileId", job.FileID),
	)

	outcome, err := w.store.TransitionStatus(ctx, job.DocumentID, models.StatusExtractionStarted, "")
	if errors.Is(err, models.ErrTerminalState) {
		log.Warn("Document already terminal, skipping job")
		return nil
	}
	if err != nil {
		return w.fail(ctx, log, job, err)
	}
	if outcome == models.TransitionStale {
		log.Info("Redelivered job, extracting again")
	}

	if err := w.extract(ctx, log, job); err != nil {
		return w.fail(ctx, log, job, err)
	}
	return nil
}

func (w *Worker) extract(ctx context.Context, log logger.Logger, job queue.Job) error {
	file, err := w.store.GetFile(ctx, job.FileID)
	if err != nil {
		return err
	}

	start := time.Now()
	blocks, err := w.detector.DetectText(ctx, agent.SourceFor(w.storage, file))
	if err != nil {
		return apperr.E(apperr.KindUpstream, "extraction.DetectText", err)
	}
	text := document.LineText(blocks)
	log.Info("Text detected",
		logger.String("engine", w.detector.Name()),
		logger.Int("blocks", len(blocks)),
		logger.Int("chars", len(text)),
		logger.Duration("elapsed", time.Since(start)),
	)

	if err := w.store.InsertRawText(ctx, &models.RawText{FileID: file.ID, Content: text}); err != nil {
		return err
	}
	if _, err := w.store.TransitionStatus(ctx, job.DocumentID, models.StatusExtractionDone, ""); err != nil {
		return err
	}

	if err := w.queue.Enqueue(ctx, queue.QueueStructuring, job); err != nil {
		return apperr.E(apperr.KindUpstream, "extraction.Enqueue", err)
	}
	log.Info("Structuring job enqueued")
	return nil
}

func (w *Worker) fail(ctx context.Context, log logger.Logger, job queue.Job, err error) error {
	if service.Interrupted(ctx) {
		log.Warn("Extraction interrupted, returning job to the broker", logger.Error(err))
		return err
	}
	w.failures.Record(ctx, log, job.DocumentID, stage, err)
	return nil
}
