package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
)

func seed(t *testing.T, s *Store) (*models.StoredFile, *models.Document) {
	t.Helper()
	file := &models.StoredFile{ID: "f1", Name: "cupom.jpg", Folder: "receipts", Key: "k-cupom.jpg"}
	doc := &models.Document{ID: "d1", FileID: "f1", Status: models.StatusCreated}
	msg := &models.OutboxMessage{ID: "o1", DocumentID: "d1", Queue: "text-extraction"}
	require.NoError(t, s.CreateSubmission(context.Background(), file, doc, msg))
	return file, doc
}

func TestCreateSubmissionIsAtomic(t *testing.T) {
	s := New()
	s.SetCommitHook(func(op string) error { return errors.New("disk full") })

	err := s.CreateSubmission(context.Background(),
		&models.StoredFile{ID: "f1"},
		&models.Document{ID: "d1", FileID: "f1", Status: models.StatusCreated},
		&models.OutboxMessage{ID: "o1", DocumentID: "d1"},
	)
	require.ErrorIs(t, err, apperr.ErrPersistence)

	_, err = s.GetDocument(context.Background(), "d1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.GetFile(context.Background(), "f1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, ok := s.OutboxMessage("o1")
	assert.False(t, ok)
}

func TestTransitionStatusRecordsHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	outcome, err := s.TransitionStatus(ctx, "d1", models.StatusExtractionStarted, "")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApply, outcome)

	outcome, err = s.TransitionStatus(ctx, "d1", models.StatusExtractionStarted, "")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionNoop, outcome)

	_, err = s.TransitionStatus(ctx, "d1", models.StatusStructuringDone, "")
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.TransitionStatus(ctx, "d1", models.StatusFailed, "NOT_FOUND: file")
	require.NoError(t, err)

	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Equal(t, "NOT_FOUND: file", doc.FailureReason)
	assert.Equal(t, []models.Status{models.StatusCreated, models.StatusExtractionStarted, models.StatusFailed}, s.History("d1"))

	_, err = s.TransitionStatus(ctx, "missing", models.StatusFailed, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLatestRawTextIsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	require.NoError(t, s.InsertRawText(ctx, &models.RawText{FileID: "f1", Content: "first"}))
	require.NoError(t, s.InsertRawText(ctx, &models.RawText{FileID: "f1", Content: "second"}))

	rt, err := s.LatestRawText(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "second", rt.Content)
	assert.Len(t, s.RawTextsFor("f1"), 2)

	_, err = s.LatestRawText(ctx, "other")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCompleteStructuringRequiresStructuringStarted(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	err := s.CompleteStructuring(ctx, &models.StructuredResult{DocumentID: "d1"})
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Empty(t, s.ResultsFor("d1"))

	for _, st := range []models.Status{models.StatusExtractionStarted, models.StatusExtractionDone, models.StatusStructuringStarted} {
		_, err := s.TransitionStatus(ctx, "d1", st, "")
		require.NoError(t, err)
	}

	s.SetCommitHook(func(string) error { return errors.New("connection reset") })
	err = s.CompleteStructuring(ctx, &models.StructuredResult{DocumentID: "d1", Items: []models.LineItem{{Code: "1"}}})
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Empty(t, s.ResultsFor("d1"))
	doc, _ := s.GetDocument(ctx, "d1")
	assert.Equal(t, models.StatusStructuringStarted, doc.Status)

	s.SetCommitHook(nil)
	require.NoError(t, s.CompleteStructuring(ctx, &models.StructuredResult{DocumentID: "d1", Items: []models.LineItem{{Code: "1"}}}))

	res, err := s.LatestResult(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Items, 1)
	doc, _ = s.GetDocument(ctx, "d1")
	assert.Equal(t, models.StatusStructuringDone, doc.Status)
}

func TestPendingOutbox(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	seed(t, s)

	pending, err := s.PendingOutbox(ctx, now.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "rows younger than the cutoff are left to the coordinator")

	pending, err = s.PendingOutbox(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.RecordOutboxFailure(ctx, "o1", "redis down"))
	m, _ := s.OutboxMessage("o1")
	assert.Equal(t, 1, m.Attempts)

	require.NoError(t, s.MarkDispatched(ctx, "o1", now))
	pending, err = s.PendingOutbox(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
