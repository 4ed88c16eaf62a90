package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository/memory"
	"github.com/feichai0017/receipt-processor/internal/service/receipt"
	"github.com/feichai0017/receipt-processor/internal/testutil"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

type env struct {
	store    *memory.Store
	storage  *testutil.Storage
	queue    *testutil.Enqueuer
	migrated bool
}

func setup(t *testing.T) *env {
	t.Helper()
	e := &env{store: memory.New(), storage: testutil.NewStorage(), queue: testutil.NewEnqueuer()}
	log := logger.NewNop()
	d := receipt.NewDispatcher(e.store, e.queue, log)
	current = &app{
		coordinator: receipt.NewCoordinator(receipt.Config{Folder: "receipts"}, e.store, e.storage, d, log),
		relay:       receipt.NewRelay(d, e.store, time.Minute, 10, log),
		storage:     e.storage,
		migrate:     func(context.Context) error { e.migrated = true; return nil },
		folder:      "receipts",
		retention:   24 * time.Hour,
	}
	submitCategories, relayOnce, cleanupOlderThan = nil, false, 0
	t.Cleanup(func() { current = nil })
	return e
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeReceipt(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cupom.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 160, 160))))
	return path
}

func TestMigrate(t *testing.T) {
	e := setup(t)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.True(t, e.migrated)
	assert.Contains(t, out, "Schema up to date")
}

func TestSubmitThenGet(t *testing.T) {
	e := setup(t)

	out, err := execute(t, "submit", writeReceipt(t), "--category", "bebidas, destilados", "-c", "drink")
	require.NoError(t, err)
	var doc models.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, models.StatusExtractionStarted, doc.Status)

	jobs := e.queue.On(queue.QueueTextExtraction)
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{"bebidas, destilados", "drink"}, jobs[0].Job.CategoryHints)

	out, err = execute(t, "get", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"details": null`)

	_, err = execute(t, "get", "missing")
	assert.Error(t, err)
}

func TestSubmitMissingFile(t *testing.T) {
	setup(t)
	_, err := execute(t, "submit", filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}

func TestRelayOnce(t *testing.T) {
	e := setup(t)
	e.queue.SetErr(assert.AnError)
	_, err := execute(t, "submit", writeReceipt(t))
	require.NoError(t, err)
	e.queue.SetErr(nil)

	out, err := execute(t, "relay", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Dispatched 1 message(s).")
	assert.Len(t, e.queue.Jobs(), 1)
}

func TestCleanup(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	for _, key := range []string{"receipts/old.jpg", "receipts/new.jpg", "other/old.jpg"} {
		require.NoError(t, e.storage.Put(ctx, strings.NewReader("x"), 1, key, "image/jpeg"))
	}
	e.storage.SetModified("receipts/old.jpg", time.Now().Add(-48*time.Hour))
	e.storage.SetModified("other/old.jpg", time.Now().Add(-48*time.Hour))

	out, err := execute(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 object(s)")
	assert.ElementsMatch(t, []string{"receipts/new.jpg", "other/old.jpg"}, e.storage.Keys())

	out, err = execute(t, "cleanup", "--older-than", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 object(s)")
}
