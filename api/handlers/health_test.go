package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

type fakeStats struct{}

func (fakeStats) Stats(context.Context) ([]queue.Stats, error) {
	return []queue.Stats{{Queue: queue.QueueTextExtraction, Pending: 3}}, nil
}

func healthRequest(h *HealthHandler) (*httptest.ResponseRecorder, HealthResponse) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func ok(context.Context) error { return nil }

func TestHealthOK(t *testing.T) {
	h := NewHealthHandler([]Check{{Name: "postgres", Probe: ok}, {Name: "redis", Probe: ok}}, logger.NewNop()).
		WithQueueStats(fakeStats{})

	rec, resp := healthRequest(h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, resp.Checks)
	require.Len(t, resp.Queues, 1)
	assert.Equal(t, 3, resp.Queues[0].Pending)
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler([]Check{
		{Name: "postgres", Probe: ok},
		{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }},
	}, logger.NewNop()).WithQueueStats(fakeStats{})

	rec, resp := healthRequest(h)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"])
	assert.Empty(t, resp.Queues)
}
