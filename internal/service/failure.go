// Package service holds what the pipeline stages share.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

const defaultFailWriteTimeout = 10 * time.Second

// FailureRecorder moves a document to FAILED with a reason. The write gets
// its own deadline and survives cancellation of the job context.
type FailureRecorder struct {
	docs    repository.Documents
	timeout time.Duration
}

func NewFailureRecorder(docs repository.Documents, timeout time.Duration) *FailureRecorder {
	if timeout <= 0 {
		timeout = defaultFailWriteTimeout
	}
	return &FailureRecorder{docs: docs, timeout: timeout}
}

// Record logs cause and writes FAILED. Documents already terminal are left alone.
func (f *FailureRecorder) Record(ctx context.Context, log logger.Logger, documentID, stage string, cause error) {
	reason := apperr.Reason(cause)
	log.Error("Stage failed",
		logger.String("stage", stage),
		logger.String("kind", string(apperr.KindOf(cause))),
		logger.Error(cause),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if _, err := f.docs.TransitionStatus(writeCtx, documentID, models.StatusFailed, reason); err != nil {
		if errors.Is(err, models.ErrTerminalState) {
			log.Warn("Document already terminal, failure not recorded", logger.String("stage", stage))
			return
		}
		log.Error("Failed to record failure", logger.String("stage", stage), logger.Error(err))
	}
}

// Interrupted reports whether the job context was cancelled, which asynq
// does on shutdown. Such jobs go back to the broker instead of failing. A
// task timeout is a deadline, not a cancellation, and fails the document.
func Interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
