// Package structuring is the second pipeline stage: have the assistant turn
// raw OCR text plus the image into a StructuredResult.
package structuring

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/receipt-processor/internal/agent"
	"github.com/feichai0017/receipt-processor/internal/agent/assistant"
	"github.com/feichai0017/receipt-processor/internal/agent/fiscal"
	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
	"github.com/feichai0017/receipt-processor/internal/service"
	"github.com/feichai0017/receipt-processor/pkg/converters"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
	"github.com/feichai0017/receipt-processor/pkg/storage"
)

const stage = "structuring"

type Store interface {
	repository.Documents
	repository.Files
	repository.RawTexts
	repository.Results
}

type Config struct {
	PollInterval     time.Duration
	MaxWait          time.Duration
	PresignTTL       time.Duration
	FailWriteTimeout time.Duration
	FiscalTimeout    time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 1500 * time.Millisecond
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 5 * time.Minute
	}
	if c.PresignTTL <= 0 {
		c.PresignTTL = time.Hour
	}
	if c.FiscalTimeout <= 0 {
		c.FiscalTimeout = 30 * time.Second
	}
}

type Worker struct {
	cfg       Config
	store     Store
	presigner storage.Presigner
	assistant assistant.Client
	fiscal    fiscal.Lookup
	failures  *service.FailureRecorder
	logger    logger.Logger

	background sync.WaitGroup
}

// NewWorker builds the stage. lookup may be nil to skip fiscal verification.
func NewWorker(cfg Config, store Store, presigner storage.Presigner, client assistant.Client, lookup fiscal.Lookup, log logger.Logger) *Worker {
	cfg.setDefaults()
	return &Worker{
		cfg:       cfg,
		store:     store,
		presigner: presigner,
		assistant: client,
		fiscal:    lookup,
		failures:  service.NewFailureRecorder(store, cfg.FailWriteTimeout),
		logger:    log.Named(stage),
	}
}

func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	log := w.logger.With(
		logger.String("documentId", job.DocumentID),
		logger.String("fileId", job.FileID),
	)

	if _, err := w.store.TransitionStatus(ctx, job.DocumentID, models.StatusStructuringStarted, ""); err != nil {
		if errors.Is(err, models.ErrTerminalState) {
			log.Warn("Document already terminal, skipping job")
			return nil
		}
		return w.fail(ctx, log, job, err)
	}

	result, err := w.structure(ctx, log, job)
	if err != nil {
		return w.fail(ctx, log, job, err)
	}

	if err := w.store.CompleteStructuring(ctx, result); err != nil {
		return w.fail(ctx, log, job, err)
	}
	log.Info("Receipt structured",
		logger.String("resultId", result.ID),
		logger.Int("items", len(result.Items)),
		logger.Float64("total", result.Totals.Total),
	)

	w.verifyFiscal(ctx, log, result.Document.AccessKey)
	return nil
}

func (w *Worker) structure(ctx context.Context, log logger.Logger, job queue.Job) (*models.StructuredResult, error) {
	var (
		raw  *models.RawText
		file *models.StoredFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		raw, err = w.store.LatestRawText(gctx, job.FileID)
		return err
	})
	g.Go(func() (err error) {
		file, err = w.store.GetFile(gctx, job.FileID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prompt := BuildPrompt(raw.Content, job.CategoryHints)
	parts := []assistant.Part{assistant.TextPart(prompt)}
	if contentType := contentTypeOf(file); visionTypes[contentType] {
		imageURL, err := w.presigner.Presign(ctx, file.ObjectKey(), w.cfg.PresignTTL)
		if err != nil {
			return nil, apperr.E(apperr.KindUpstream, "structuring.Presign", err)
		}
		parts = append(parts, assistant.ImagePart(imageURL))
	} else {
		log.Info("File is not an image, sending OCR text only", logger.String("contentType", contentType))
	}

	sessionID, err := w.assistant.CreateSession(ctx, parts)
	if err != nil {
		return nil, err
	}
	runID, err := w.assistant.StartRun(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log = log.With(logger.String("sessionId", sessionID), logger.String("runId", runID))
	log.Info("Assistant run started", logger.Int("promptChars", len(prompt)))

	run, err := w.waitForRun(ctx, log, sessionID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != assistant.RunCompleted {
		return nil, apperr.Errorf(apperr.KindRunFailed, "structuring.Run",
			"run %s ended %s %s", runID, run.Status, run.LastError)
	}

	text, err := w.answer(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := converters.ParseAssistantResponse(text)
	if err != nil {
		return nil, err
	}
	result.DocumentID = job.DocumentID
	return result, nil
}

// visionTypes are the formats the assistant accepts as an image part.
var visionTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

func contentTypeOf(file *models.StoredFile) string {
	if file.ContentType != "" {
		return file.ContentType
	}
	ct, _ := agent.MIMEFor(path.Ext(file.ObjectKey()))
	return ct
}

// waitForRun polls until the run is terminal, giving up after MaxWait.
func (w *Worker) waitForRun(ctx context.Context, log logger.Logger, sessionID, runID string) (*assistant.Run, error) {
	deadline := time.Now().Add(w.cfg.MaxWait)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		run, err := w.assistant.GetRunStatus(ctx, sessionID, runID)
		if err != nil {
			if ctx.Err() != nil {
				w.cancelRun(ctx, log, sessionID, runID)
			}
			return nil, err
		}
		if run.Status.Terminal() {
			log.Info("Assistant run finished",
				logger.String("status", string(run.Status)),
				logger.Int("polls", polls),
			)
			return run, nil
		}
		if time.Now().After(deadline) {
			w.cancelRun(ctx, log, sessionID, runID)
			return nil, apperr.Errorf(apperr.KindTimeout, "structuring.Run",
				"run %s still %s after %s", runID, run.Status, w.cfg.MaxWait)
		}

		select {
		case <-ctx.Done():
			w.cancelRun(ctx, log, sessionID, runID)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// cancelRun is best-effort and outlives the job context.
func (w *Worker) cancelRun(ctx context.Context, log logger.Logger, sessionID, runID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.assistant.CancelRun(cctx, sessionID, runID); err != nil {
		log.Warn("Failed to cancel assistant run", logger.Error(err))
	}
}

// answer returns the text of the newest assistant message, which must hold
// exactly one text block.
func (w *Worker) answer(ctx context.Context, sessionID string) (string, error) {
	msgs, err := w.assistant.ListMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		var texts []string
		for _, block := range m.Content {
			if block.Type == "text" {
				texts = append(texts, block.Text)
			}
		}
		if len(texts) != 1 {
			return "", apperr.Errorf(apperr.KindMalformedResponse, "structuring.Answer",
				"assistant message %s has %d text blocks", m.ID, len(texts))
		}
		return texts[0], nil
	}
	return "", apperr.Errorf(apperr.KindMalformedResponse, "structuring.Answer", "no assistant message in session %s", sessionID)
}

// verifyFiscal consults the fiscal authority in the background. Its outcome
// is only logged.
func (w *Worker) verifyFiscal(ctx context.Context, log logger.Logger, accessKey string) {
	if w.fiscal == nil || !fiscal.ValidAccessKey(accessKey) {
		return
	}
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FiscalTimeout)
		defer cancel()

		if _, err := w.fiscal.Consult(fctx, accessKey); err != nil {
			log.Warn("Fiscal lookup failed", logger.Error(err))
			return
		}
		log.Info("Fiscal lookup done")
	}()
}

// Wait blocks until background fiscal lookups finish.
func (w *Worker) Wait() {
	w.background.Wait()
}

func (w *Worker) fail(ctx context.Context, log logger.Logger, job queue.Job, err error) error {
	if service.Interrupted(ctx) {
		log.Warn("Structuring interrupted, returning job to the broker", logger.Error(err))
		return err
	}
	w.failures.Record(ctx, log, job.DocumentID, stage, err)
	return nil
}
