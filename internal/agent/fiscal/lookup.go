package fiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// Lookup consults the fiscal authority for an access key.
type Lookup interface {
	Consult(ctx context.Context, accessKey string) (json.RawMessage, error)
}

// HTTPLookup calls GET <apiURL>?code=<accessKey>.
type HTTPLookup struct {
	apiURL     string
	httpClient *http.Client
	logger     logger.Logger
}

func NewHTTPLookup(cfg config.FiscalConfig, log logger.Logger) *HTTPLookup {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPLookup{
		apiURL:     cfg.APIURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("fiscal"),
	}
}

func (l *HTTPLookup) Consult(ctx context.Context, accessKey string) (json.RawMessage, error) {
	const op = "fiscal.Consult"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiURL+"?code="+url.QueryEscape(accessKey), nil)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Errorf(apperr.KindUpstream, op, "status %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, apperr.E(apperr.KindUpstream, op, fmt.Errorf("response is not JSON"))
	}

	l.logger.Debug("Fiscal lookup done", logger.Int("bytes", len(body)))
	return json.RawMessage(body), nil
}
