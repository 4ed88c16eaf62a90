// Package receipt accepts uploads and answers status queries. Submissions
// are handed to the pipeline through a transactional outbox.
package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/feichai0017/receipt-processor/internal/agent/document/image"
	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
	"github.com/feichai0017/receipt-processor/internal/utils/validator"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
	"github.com/feichai0017/receipt-processor/pkg/storage"
)

type Store interface {
	OutboxStore
	repository.Results
}

type Config struct {
	Folder         string
	UploadMaxBytes int64
	ImageMaxSide   int
	JPEGQuality    int
}

// Upload is a file as received from a client.
type Upload struct {
	Filename string
	Reader   io.Reader
}

type Coordinator struct {
	cfg        Config
	store      Store
	storage    storage.Storage
	dispatcher *Dispatcher
	validator  *validator.DocumentValidator
	logger     logger.Logger
}

func NewCoordinator(cfg Config, store Store, st storage.Storage, dispatcher *Dispatcher, log logger.Logger) *Coordinator {
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 10 << 20
	}
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		storage:    st,
		dispatcher: dispatcher,
		validator:  validator.NewDocumentValidator(log, validator.DefaultConfig(cfg.UploadMaxBytes)),
		logger:     log.Named("coordinator"),
	}
}

// Submit stores the upload and starts the pipeline for it. The returned
// document is CREATED when the first job could not be enqueued yet; the
// relay retries it.
func (c *Coordinator) Submit(ctx context.Context, up Upload, hints []string) (*models.Document, error) {
	const op = "receipt.Submit"

	data, err := io.ReadAll(io.LimitReader(up.Reader, c.cfg.UploadMaxBytes+1))
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidUpload, op, err)
	}
	info, err := c.validator.Validate(path.Base(up.Filename), data)
	if err != nil {
		return nil, err
	}

	name, contentType := info.Filename, info.MimeType
	if info.IsImage() {
		data, err = image.Normalize(bytes.NewReader(data), image.NormalizeOptions{
			MaxSide: c.cfg.ImageMaxSide,
			Quality: c.cfg.JPEGQuality,
		})
		if err != nil {
			return nil, apperr.E(apperr.KindInvalidUpload, op, err)
		}
		name = strings.TrimSuffix(name, path.Ext(name)) + ".jpg"
		contentType = "image/jpeg"
	}

	file := &models.StoredFile{
		ID:          uuid.NewString(),
		Name:        info.Filename,
		Extension:   strings.TrimPrefix(path.Ext(name), "."),
		BaseURL:     c.storage.BaseURL(),
		Folder:      c.cfg.Folder,
		Key:         uuid.NewString() + "-" + name,
		Size:        int64(len(data)),
		ContentType: contentType,
	}
	file.URL = strings.TrimRight(file.BaseURL, "/") + "/" + file.ObjectKey()

	log := c.logger.With(logger.String("fileId", file.ID), logger.String("key", file.ObjectKey()))
	if err := c.storage.Put(ctx, bytes.NewReader(data), file.Size, file.ObjectKey(), contentType); err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, fmt.Errorf("store upload: %w", err))
	}

	doc := &models.Document{
		ID:     uuid.NewString(),
		FileID: file.ID,
		Status: models.StatusCreated,
	}
	job := queue.Job{DocumentID: doc.ID, FileID: file.ID, CategoryHints: hints}
	payload, err := job.Marshal()
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, op, err)
	}
	msg := &models.OutboxMessage{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Queue:      queue.QueueTextExtraction,
		TaskType:   queue.TaskTypeExtractText,
		Payload:    payload,
	}

	if err := c.store.CreateSubmission(ctx, file, doc, msg); err != nil {
		if derr := c.storage.Delete(context.WithoutCancel(ctx), file.ObjectKey()); derr != nil {
			log.Warn("Failed to remove orphaned upload", logger.Error(derr))
		}
		return nil, err
	}
	log = log.With(logger.String("documentId", doc.ID))
	log.Info("Receipt submitted", logger.Int64("size", file.Size), logger.Strings("categoryHints", hints))

	if err := c.dispatcher.Dispatch(ctx, *msg); err != nil {
		log.Warn("Dispatch deferred to relay", logger.Error(err))
		return doc, nil
	}

	current, err := c.store.GetDocument(ctx, doc.ID)
	if err != nil {
		log.Warn("Failed to reload document", logger.Error(err))
		return doc, nil
	}
	return current, nil
}

// GetByID joins the document with its most recent result, if any.
func (c *Coordinator) GetByID(ctx context.Context, id string) (*models.DocumentDetails, error) {
	doc, err := c.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := c.store.LatestResult(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.DocumentDetails{Document: *doc, Details: result}, nil
}
