package structuring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/agent/assistant"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository/memory"
	"github.com/feichai0017/receipt-processor/internal/testutil"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

const answerJSON = `{
  "establishment": {"name": "PADARIA SOL", "cnpj": "11.222.333/0001-44", "state_registration": "", "address": {"street": "AV BRASIL", "number": "10", "complement": "", "neighborhood": "CENTRO", "city": "CAMPINAS", "state": "SP", "postal_code": null}},
  "document": {"type": "NFC-e", "description": "", "series": "1", "number": "99", "issue_date": "2024-05-02", "access_key": "35230512345678000190650010000123451000123455", "consult_url": "", "receipt_url": ""},
  "items": [
    {"code": "1", "description": "PAO FRANCES", "quantity": 0.5, "unit": "KG", "unit_price": 16.0, "total_price": 8.0, "category_system": "food"},
    {"code": "2", "description": "CAFE", "quantity": 1, "unit": "UN", "unit_price": 6.5, "total_price": 6.5, "category_system": "drink"}
  ],
  "totals": {"total_items": 2, "subtotal": 14.5, "total": 14.5, "payment_method": "DINHEIRO"},
  "customer": {"identified": false}
}`

type fixture struct {
	store     *memory.Store
	storage   *testutil.Storage
	assistant *testutil.Assistant
	fiscal    *testutil.Fiscal
	log       *logger.TestLogger
	worker    *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		storage:   testutil.NewStorage(),
		assistant: &testutil.Assistant{Messages: []assistant.Message{testutil.Answer(answerJSON)}},
		fiscal:    &testutil.Fiscal{},
		log:       logger.NewTestLogger(),
	}
	f.store.PutFile(models.StoredFile{ID: "f1", Name: "cupom.jpg", Folder: "receipts", Key: "k-cupom.jpg"})
	f.store.PutDocument(models.Document{ID: "d1", FileID: "f1", Status: models.StatusExtractionDone})
	require.NoError(t, f.store.InsertRawText(context.Background(), &models.RawText{FileID: "f1", Content: "PADARIA SOL\nTOTAL 14,50"}))

	f.worker = NewWorker(Config{
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
		PresignTTL:   time.Hour,
	}, f.store, f.storage, f.assistant, f.fiscal, f.log)
	return f
}

var job = queue.Job{DocumentID: "d1", FileID: "f1"}

func (f *fixture) doc(t *testing.T) *models.Document {
	t.Helper()
	d, err := f.store.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	return d
}

func TestStructuringHappyPath(t *testing.T) {
	f := newFixture(t)
	f.assistant.Statuses = []assistant.RunStatus{assistant.RunQueued, assistant.RunInProgress, assistant.RunCompleted}

	require.NoError(t, f.worker.Handle(context.Background(), job))
	f.worker.Wait()

	assert.Equal(t, models.StatusStructuringDone, f.doc(t).Status)
	assert.Equal(t, []models.Status{
		models.StatusExtractionDone,
		models.StatusStructuringStarted,
		models.StatusStructuringDone,
	}, f.store.History("d1"))

	results := f.store.ResultsFor("d1")
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "PADARIA SOL", r.Establishment.Name)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "drink", r.Items[1].Category)
	assert.Equal(t, 14.5, r.Totals.Total)
	assert.Equal(t, 3, f.assistant.Polls())

	sessions := f.assistant.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0], 2)
	assert.Equal(t, assistant.PartText, sessions[0][0].Type)
	assert.True(t, strings.HasSuffix(sessions[0][0].Text, "OCR:\n\nPADARIA SOL\nTOTAL 14,50"))
	assert.Equal(t, assistant.PartImageURL, sessions[0][1].Type)
	assert.Equal(t, "https://storage.test/receipts/k-cupom.jpg?expires=3600", sessions[0][1].ImageURL)

	assert.Equal(t, []string{"35230512345678000190650010000123451000123455"}, f.fiscal.Keys())
}

func TestNonImageFilesSendTextOnly(t *testing.T) {
	for _, file := range []models.StoredFile{
		{ID: "f1", Name: "nota.pdf", Folder: "receipts", Key: "k-nota.pdf", ContentType: "application/pdf"},
		{ID: "f1", Name: "nota.pdf", Folder: "receipts", Key: "k-nota.pdf"},
		{ID: "f1", Name: "scan.tiff", Folder: "receipts", Key: "k-scan.tiff", ContentType: "image/tiff"},
	} {
		t.Run(file.Key+"/"+file.ContentType, func(t *testing.T) {
			f := newFixture(t)
			f.store.PutFile(file)

			require.NoError(t, f.worker.Handle(context.Background(), job))
			f.worker.Wait()

			assert.Equal(t, models.StatusStructuringDone, f.doc(t).Status)
			sessions := f.assistant.Sessions()
			require.Len(t, sessions, 1)
			require.Len(t, sessions[0], 1)
			assert.Equal(t, assistant.PartText, sessions[0][0].Type)
			assert.True(t, strings.HasSuffix(sessions[0][0].Text, "OCR:\n\nPADARIA SOL\nTOTAL 14,50"))
			assert.Empty(t, f.storage.Presigned())
		})
	}
}

func TestPNGFileSendsImage(t *testing.T) {
	f := newFixture(t)
	f.store.PutFile(models.StoredFile{ID: "f1", Name: "cupom.png", Folder: "receipts", Key: "k-cupom.png", ContentType: "image/png"})

	require.NoError(t, f.worker.Handle(context.Background(), job))
	sessions := f.assistant.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0], 2)
	assert.Equal(t, "https://storage.test/receipts/k-cupom.png?expires=3600", sessions[0][1].ImageURL)
}

func TestStructuringUsesLatestRawText(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertRawText(context.Background(), &models.RawText{FileID: "f1", Content: "second pass"}))

	require.NoError(t, f.worker.Handle(context.Background(), job))
	assert.True(t, strings.HasSuffix(f.assistant.Sessions()[0][0].Text, "OCR:\n\nsecond pass"))
}

func TestFailedRunFailsDocument(t *testing.T) {
	f := newFixture(t)
	f.assistant.Statuses = []assistant.RunStatus{assistant.RunInProgress, assistant.RunFailed}

	require.NoError(t, f.worker.Handle(context.Background(), job))

	d := f.doc(t)
	assert.Equal(t, models.StatusFailed, d.Status)
	assert.True(t, strings.HasPrefix(d.FailureReason, "ASSISTANT_RUN_FAILED: "), d.FailureReason)
	assert.Empty(t, f.store.ResultsFor("d1"))
	assert.Empty(t, f.fiscal.Keys())
}

func TestMissingFileFailsBeforeSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.worker.Handle(context.Background(), queue.Job{DocumentID: "d1", FileID: "gone"}))

	d := f.doc(t)
	assert.Equal(t, models.StatusFailed, d.Status)
	assert.True(t, strings.HasPrefix(d.FailureReason, "NOT_FOUND: "), d.FailureReason)
	assert.Empty(t, f.assistant.Sessions())
	assert.Empty(t, f.storage.Presigned())
}

func TestHintsAppendedAndMissingTextBlock(t *testing.T) {
	f := newFixture(t)
	f.assistant.Messages = []assistant.Message{{
		ID:      "msg_1",
		Role:    "assistant",
		Content: []assistant.ContentBlock{{Type: "image_file"}},
	}}

	hinted := queue.Job{DocumentID: "d1", FileID: "f1", CategoryHints: []string{"food", "drink"}}
	require.NoError(t, f.worker.Handle(context.Background(), hinted))

	prompt := f.assistant.Sessions()[0][0].Text
	assert.True(t, strings.HasSuffix(prompt, "\n\nCATEGORIES:\nfood, drink"), prompt)

	d := f.doc(t)
	assert.Equal(t, models.StatusFailed, d.Status)
	assert.True(t, strings.HasPrefix(d.FailureReason, "MALFORMED_ASSISTANT_RESPONSE: "), d.FailureReason)
}

func TestUnparsableAnswerIsMalformed(t *testing.T) {
	f := newFixture(t)
	f.assistant.Messages = []assistant.Message{testutil.Answer("Não consegui ler o cupom.")}

	require.NoError(t, f.worker.Handle(context.Background(), job))
	assert.True(t, strings.HasPrefix(f.doc(t).FailureReason, "MALFORMED_ASSISTANT_RESPONSE: "))
}

func TestRunTimeoutCancelsRun(t *testing.T) {
	f := newFixture(t)
	f.assistant.Statuses = []assistant.RunStatus{assistant.RunInProgress}
	f.worker.cfg.MaxWait = 20 * time.Millisecond

	require.NoError(t, f.worker.Handle(context.Background(), job))

	d := f.doc(t)
	assert.Equal(t, models.StatusFailed, d.Status)
	assert.True(t, strings.HasPrefix(d.FailureReason, "ASSISTANT_TIMEOUT: "), d.FailureReason)
	assert.Equal(t, []string{"run_thread_1"}, f.assistant.Cancelled())
}

func TestCommitFailureLeavesNoResult(t *testing.T) {
	f := newFixture(t)
	f.store.SetCommitHook(func(op string) error { return errors.New("connection reset") })

	require.NoError(t, f.worker.Handle(context.Background(), job))

	d := f.doc(t)
	assert.NotEqual(t, models.StatusStructuringDone, d.Status)
	assert.Equal(t, models.StatusFailed, d.Status)
	assert.True(t, strings.HasPrefix(d.FailureReason, "PERSISTENCE: "), d.FailureReason)
	assert.Empty(t, f.store.ResultsFor("d1"))
}

func TestTerminalDocumentSkipped(t *testing.T) {
	f := newFixture(t)
	f.store.PutDocument(models.Document{ID: "d1", FileID: "f1", Status: models.StatusFailed})

	require.NoError(t, f.worker.Handle(context.Background(), job))
	assert.Empty(t, f.assistant.Sessions())
}

func TestFiscalFailureDoesNotChangeStatus(t *testing.T) {
	f := newFixture(t)
	f.fiscal.Err = errors.New("sefaz offline")

	require.NoError(t, f.worker.Handle(context.Background(), job))
	f.worker.Wait()

	assert.Equal(t, models.StatusStructuringDone, f.doc(t).Status)
	assert.Len(t, f.fiscal.Keys(), 1)
	assert.Len(t, f.log.Entries("WARN"), 1)
}

func TestShutdownDuringPollReturnsJob(t *testing.T) {
	f := newFixture(t)
	f.assistant.Statuses = []assistant.RunStatus{assistant.RunInProgress}
	f.worker.cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.assistant.Polls() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := f.worker.Handle(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusStructuringStarted, f.doc(t).Status)
	assert.Len(t, f.assistant.Cancelled(), 1)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("LINE 1\nLINE 2", nil)
	assert.True(t, strings.HasPrefix(p, instruction))
	assert.True(t, strings.HasSuffix(p, "\n\nOCR:\n\nLINE 1\nLINE 2"))
	assert.NotContains(t, p, "CATEGORIES")
	assert.Equal(t, p, BuildPrompt("LINE 1\nLINE 2", []string{}))

	for _, key := range []string{`"establishment"`, `"document"`, `"items"`, `"totals"`, `"customer"`} {
		assert.Contains(t, instruction, key)
	}
}
