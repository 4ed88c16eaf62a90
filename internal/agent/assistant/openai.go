package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// OpenAIClient drives the OpenAI Assistants API (v2): sessions are threads.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	assistantID string
	httpClient  *http.Client
	logger      logger.Logger
}

func NewOpenAIClient(cfg config.OpenAIConfig, log logger.Logger) (*OpenAIClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		assistantID: cfg.AssistantID,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log.Named("openai"),
	}, nil
}

func (c *OpenAIClient) CreateSession(ctx context.Context, parts []Part) (string, error) {
	content := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			content = append(content, map[string]any{"type": "text", "text": p.Text})
		case PartImageURL:
			content = append(content, map[string]any{
				"type":      "image_url",
				"image_url": map[string]string{"url": p.ImageURL},
			})
		default:
			return "", fmt.Errorf("unknown message part type %q", p.Type)
		}
	}
	body := map[string]any{
		"messages": []map[string]any{{"role": "user", "content": content}},
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", body, &out); err != nil {
		return "", apperr.E(apperr.KindUpstream, "assistant.CreateSession", err)
	}
	return out.ID, nil
}

func (c *OpenAIClient) StartRun(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := "/threads/" + url.PathEscape(sessionID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"assistant_id": c.assistantID}, &out); err != nil {
		return "", apperr.E(apperr.KindUpstream, "assistant.StartRun", err)
	}
	return out.ID, nil
}

type wireRun struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    RunStatus `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func (c *OpenAIClient) GetRunStatus(ctx context.Context, sessionID, runID string) (*Run, error) {
	var out wireRun
	path := "/threads/" + url.PathEscape(sessionID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, apperr.E(apperr.KindUpstream, "assistant.GetRunStatus", err)
	}
	run := &Run{ID: out.ID, SessionID: out.ThreadID, Status: out.Status}
	if out.LastError != nil {
		run.LastError = strings.TrimSpace(out.LastError.Code + " " + out.LastError.Message)
	}
	return run, nil
}

func (c *OpenAIClient) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var out struct {
		Data []struct {
			ID        string `json:"id"`
			Role      string `json:"role"`
			CreatedAt int64  `json:"created_at"`
			Content   []struct {
				Type string `json:"type"`
				Text *struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := "/threads/" + url.PathEscape(sessionID) + "/messages?order=desc"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, apperr.E(apperr.KindUpstream, "assistant.ListMessages", err)
	}

	msgs := make([]Message, 0, len(out.Data))
	for _, m := range out.Data {
		msg := Message{ID: m.ID, Role: m.Role, CreatedAt: m.CreatedAt}
		for _, block := range m.Content {
			cb := ContentBlock{Type: block.Type}
			if block.Text != nil {
				cb.Text = block.Text.Value
			}
			msg.Content = append(msg.Content, cb)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *OpenAIClient) CancelRun(ctx context.Context, sessionID, runID string) error {
	path := "/threads/" + url.PathEscape(sessionID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return apperr.E(apperr.KindUpstream, "assistant.CancelRun", err)
	}
	return nil
}

func (c *OpenAIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("OpenAI call",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
