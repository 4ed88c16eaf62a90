package routes

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/api/handlers"
	"github.com/feichai0017/receipt-processor/api/middleware"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository/memory"
	"github.com/feichai0017/receipt-processor/internal/service/receipt"
	"github.com/feichai0017/receipt-processor/internal/testutil"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

func TestReceiptRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	store := memory.New()
	coordinator := receipt.NewCoordinator(receipt.Config{Folder: "receipts"}, store, testutil.NewStorage(),
		receipt.NewDispatcher(store, testutil.NewEnqueuer(), log), log)

	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(coordinator, []handlers.Check{{Name: "postgres", Probe: store.Ping}}, log), log)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 120, 120))))
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "cupom.png")
	require.NoError(t, err)
	_, err = part.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/receipts", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get(middleware.RequestIDHeader))
	var created handlers.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, models.StatusExtractionStarted, created.Status)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/receipts/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/receipts/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
