package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/feichai0017/receipt-processor/internal/agent/assistant"
)

// Assistant scripts a session: every GetRunStatus call pops the next status
// from Statuses, repeating the last one.
type Assistant struct {
	mu sync.Mutex

	Statuses []assistant.RunStatus
	Messages []assistant.Message

	CreateErr error
	StartErr  error
	StatusErr error
	ListErr   error

	sessions  [][]assistant.Part
	polls     int
	cancelled []string
}

func (a *Assistant) CreateSession(_ context.Context, parts []assistant.Part) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CreateErr != nil {
		return "", a.CreateErr
	}
	a.sessions = append(a.sessions, append([]assistant.Part(nil), parts...))
	return fmt.Sprintf("thread_%d", len(a.sessions)), nil
}

func (a *Assistant) StartRun(_ context.Context, sessionID string) (string, error) {
	if a.StartErr != nil {
		return "", a.StartErr
	}
	return "run_" + sessionID, nil
}

func (a *Assistant) GetRunStatus(_ context.Context, sessionID, runID string) (*assistant.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.StatusErr != nil {
		return nil, a.StatusErr
	}
	status := assistant.RunCompleted
	if len(a.Statuses) > 0 {
		i := a.polls
		if i >= len(a.Statuses) {
			i = len(a.Statuses) - 1
		}
		status = a.Statuses[i]
	}
	a.polls++
	return &assistant.Run{ID: runID, SessionID: sessionID, Status: status}, nil
}

func (a *Assistant) ListMessages(context.Context, string) ([]assistant.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ListErr != nil {
		return nil, a.ListErr
	}
	return append([]assistant.Message(nil), a.Messages...), nil
}

func (a *Assistant) CancelRun(_ context.Context, _, runID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, runID)
	return nil
}

// Sessions returns the parts each session was opened with.
func (a *Assistant) Sessions() [][]assistant.Part {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]assistant.Part(nil), a.sessions...)
}

func (a *Assistant) Polls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

func (a *Assistant) Cancelled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cancelled...)
}

// Answer is an assistant message holding one text block.
func Answer(text string) assistant.Message {
	return assistant.Message{
		ID:      "msg_answer",
		Role:    "assistant",
		Content: []assistant.ContentBlock{{Type: "text", Text: text}},
	}
}
