package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

// Check is one dependency probed by GET /health.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// QueueStats is implemented by the asynq producer.
type QueueStats interface {
	Stats(ctx context.Context) ([]queue.Stats, error)
}

type HealthHandler struct {
	checks  []Check
	stats   QueueStats
	timeout time.Duration
	logger  logger.Logger
}

func NewHealthHandler(checks []Check, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: 3 * time.Second,
		logger:  log.Named("health"),
	}
}

// WithQueueStats adds queue depths to the response.
func (h *HealthHandler) WithQueueStats(stats QueueStats) *HealthHandler {
	h.stats = stats
	return h
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Queues []queue.Stats     `json:"queues,omitempty"`
}

// Health probes every dependency concurrently. Any failing probe turns the
// response into a 503.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	results := make([]string, len(h.checks))
	var g errgroup.Group
	for i, check := range h.checks {
		i, check := i, check
		g.Go(func() error {
			if err := check.Probe(ctx); err != nil {
				results[i] = err.Error()
				return err
			}
			results[i] = "ok"
			return nil
		})
	}
	failed := g.Wait() != nil

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for i, check := range h.checks {
		resp.Checks[check.Name] = results[i]
	}
	if h.stats != nil && !failed {
		stats, err := h.stats.Stats(ctx)
		if err != nil {
			h.logger.Warn("Failed to read queue stats", logger.Error(err))
		}
		resp.Queues = stats
	}

	status := http.StatusOK
	if failed {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
