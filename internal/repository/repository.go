// Package repository defines the persistence contracts of the pipeline.
// Each consumer depends on the narrowest interface it needs.
package repository

import (
	"context"
	"time"

	"github.com/feichai0017/receipt-processor/internal/models"
)

// Documents is the status ledger.
type Documents interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// TransitionStatus applies models.DecideTransition under a row lock.
	// reason is stored only when target is FAILED.
	TransitionStatus(ctx context.Context, id string, target models.Status, reason string) (models.TransitionOutcome, error)
}

type Files interface {
	GetFile(ctx context.Context, id string) (*models.StoredFile, error)
}

type RawTexts interface {
	InsertRawText(ctx context.Context, rt *models.RawText) error
	// LatestRawText returns the most recently created RawText for fileID.
	LatestRawText(ctx context.Context, fileID string) (*models.RawText, error)
}

type Results interface {
	// CompleteStructuring writes the result with every child and moves the
	// document to STRUCTURING_DONE in one transaction.
	CompleteStructuring(ctx context.Context, result *models.StructuredResult) error
	// LatestResult returns nil, nil when the document has no result yet.
	LatestResult(ctx context.Context, documentID string) (*models.StructuredResult, error)
}

type Outbox interface {
	// CreateSubmission writes the file, the CREATED document and the first
	// outbox message in one transaction.
	CreateSubmission(ctx context.Context, file *models.StoredFile, doc *models.Document, msg *models.OutboxMessage) error
	// PendingOutbox lists undispatched messages created before the cutoff, oldest first.
	PendingOutbox(ctx context.Context, createdBefore time.Time, limit int) ([]models.OutboxMessage, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	RecordOutboxFailure(ctx context.Context, id string, reason string) error
}

// Store is everything a full backend provides.
type Store interface {
	Documents
	Files
	RawTexts
	Results
	Outbox
	Ping(ctx context.Context) error
	Close()
}
