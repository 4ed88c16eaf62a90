package receipt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository/memory"
	"github.com/feichai0017/receipt-processor/internal/testutil"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

func seedSubmission(t *testing.T, store *memory.Store, id string) models.OutboxMessage {
	t.Helper()
	payload, err := queue.Job{DocumentID: "doc-" + id, FileID: "file-" + id}.Marshal()
	require.NoError(t, err)
	msg := &models.OutboxMessage{
		ID:         "msg-" + id,
		DocumentID: "doc-" + id,
		Queue:      queue.QueueTextExtraction,
		TaskType:   queue.TaskTypeExtractText,
		Payload:    payload,
	}
	require.NoError(t, store.CreateSubmission(context.Background(),
		&models.StoredFile{ID: "file-" + id},
		&models.Document{ID: "doc-" + id, FileID: "file-" + id, Status: models.StatusCreated},
		msg,
	))
	return *msg
}

func TestDispatchTwiceEnqueuesOnce(t *testing.T) {
	store := memory.New()
	q := testutil.NewEnqueuer()
	d := NewDispatcher(store, q, logger.NewNop())
	msg := seedSubmission(t, store, "1")

	require.NoError(t, d.Dispatch(context.Background(), msg))
	// a relay pass racing the request path
	require.NoError(t, d.Dispatch(context.Background(), msg))

	assert.Len(t, q.Jobs(), 1)
	assert.Equal(t, "msg-1", q.Jobs()[0].TaskID)
	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtractionStarted, doc.Status)
}

func TestDispatchAfterWorkerMovedOnIsHarmless(t *testing.T) {
	store := memory.New()
	q := testutil.NewEnqueuer()
	d := NewDispatcher(store, q, logger.NewNop())
	msg := seedSubmission(t, store, "1")

	require.NoError(t, d.Dispatch(context.Background(), msg))
	_, err := store.TransitionStatus(context.Background(), "doc-1", models.StatusFailed, "NOT_FOUND: gone")
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), msg))
	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
}

func TestRelayRunOnceSkipsFreshMessages(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	clock := now
	store := memory.New(memory.WithClock(func() time.Time { return clock }))
	q := testutil.NewEnqueuer()
	d := NewDispatcher(store, q, logger.NewNop())
	d.now = func() time.Time { return clock }
	relay := NewRelay(d, store, 5*time.Second, 10, logger.NewNop())

	seedSubmission(t, store, "old")
	clock = now.Add(4 * time.Second)
	seedSubmission(t, store, "fresh")
	clock = now.Add(6 * time.Second)

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, q.Jobs(), 1)
	assert.Equal(t, "doc-old", q.Jobs()[0].Job.DocumentID)

	clock = now.Add(10 * time.Second)
	sent, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, q.Jobs(), 2)
}

func TestRelayRunStopsWithContext(t *testing.T) {
	store := memory.New()
	relay := NewRelay(NewDispatcher(store, testutil.NewEnqueuer(), logger.NewNop()), store, time.Millisecond, 10, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, relay.Run(ctx))
}
