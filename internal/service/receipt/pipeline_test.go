package receipt_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/agent/assistant"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository/memory"
	"github.com/feichai0017/receipt-processor/internal/service/extraction"
	"github.com/feichai0017/receipt-processor/internal/service/receipt"
	"github.com/feichai0017/receipt-processor/internal/service/structuring"
	"github.com/feichai0017/receipt-processor/internal/testutil"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

const answer = `{
  "establishment": {"name": "MERCADO BOM", "cnpj": "11222333000144", "state_registration": "", "address": {"street": "RUA A", "number": "1", "complement": "", "neighborhood": null, "city": "SANTOS", "state": "SP", "postal_code": null}},
  "document": {"type": "NFC-e", "description": "", "series": "1", "number": "7", "issue_date": "02/05/2024", "access_key": "", "consult_url": "", "receipt_url": ""},
  "items": [{"code": "9", "description": "ARROZ 5KG", "quantity": 1, "unit": "UN", "unit_price": "27,90", "total_price": "27,90", "category_system": "food"}],
  "totals": {"total_items": 1, "subtotal": 27.9, "total": 27.9, "payment_method": "PIX"},
  "customer": {"identified": false}
}`

func TestReceiptFlowsThroughBothStages(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()

	store := memory.New()
	st := testutil.NewStorage()
	q := testutil.NewEnqueuer()
	detector := &testutil.Detector{Blocks: testutil.Lines("MERCADO BOM", "ARROZ 5KG 27,90")}
	bot := &testutil.Assistant{Messages: []assistant.Message{testutil.Answer(answer)}}

	coordinator := receipt.NewCoordinator(receipt.Config{Folder: "receipts"}, store, st,
		receipt.NewDispatcher(store, q, log), log)
	extractor := extraction.NewWorker(extraction.Config{}, store, st, detector, q, log)
	structurer := structuring.NewWorker(structuring.Config{PollInterval: time.Millisecond, MaxWait: time.Second},
		store, st, bot, nil, log)

	img := image.NewGray(image.Rect(0, 0, 200, 200))
	img.Set(10, 10, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	doc, err := coordinator.Submit(ctx, receipt.Upload{Filename: "nota.png", Reader: &buf}, []string{"food"})
	require.NoError(t, err)

	// play the broker: run every job in enqueue order
	for i := 0; i < len(q.Jobs()); i++ {
		rec := q.Jobs()[i]
		switch rec.Queue {
		case queue.QueueTextExtraction:
			require.NoError(t, extractor.Handle(ctx, rec.Job))
		case queue.QueueStructuring:
			require.NoError(t, structurer.Handle(ctx, rec.Job))
		}
	}
	structurer.Wait()

	assert.Len(t, q.Jobs(), 2)
	assert.Equal(t, []string{"food"}, q.On(queue.QueueStructuring)[0].Job.CategoryHints)
	assert.Equal(t, []models.Status{
		models.StatusCreated,
		models.StatusExtractionStarted,
		models.StatusExtractionDone,
		models.StatusStructuringStarted,
		models.StatusStructuringDone,
	}, store.History(doc.ID))

	details, err := coordinator.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStructuringDone, details.Status)
	require.NotNil(t, details.Details)
	assert.Equal(t, "MERCADO BOM", details.Details.Establishment.Name)
	require.Len(t, details.Details.Items, 1)
	assert.InDelta(t, 27.9, details.Details.Items[0].TotalPrice, 0.001)
	require.NotNil(t, details.Details.Document.IssueDate)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), *details.Details.Document.IssueDate)

	raw := store.RawTextsFor(doc.FileID)
	require.Len(t, raw, 1)
	assert.Equal(t, "MERCADO BOM\nARROZ 5KG 27,90", raw[0].Content)
}
