// Package assistant talks to a conversational assistant that works in
// sessions: a session holds messages, a run asks the assistant to answer.
package assistant

import "context"

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether polling can stop.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// Part is one piece of the user message that opens a session.
type Part struct {
	Type     PartType
	Text     string
	ImageURL string
}

func TextPart(text string) Part { return Part{Type: PartText, Text: text} }
func ImagePart(url string) Part  { return Part{Type: PartImageURL, ImageURL: url} }

// ContentBlock is one block of a session message. Only text blocks carry Text.
type ContentBlock struct {
	Type string
	Text string
}

type Message struct {
	ID        string
	Role      string
	Content   []ContentBlock
	CreatedAt int64
}

type Run struct {
	ID        string
	SessionID string
	Status    RunStatus
	LastError string
}

// Client is the assistant capability used by the structuring stage.
type Client interface {
	CreateSession(ctx context.Context, parts []Part) (string, error)
	StartRun(ctx context.Context, sessionID string) (string, error)
	GetRunStatus(ctx context.Context, sessionID, runID string) (*Run, error)
	// ListMessages returns the session's messages newest first.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	CancelRun(ctx context.Context, sessionID, runID string) error
}
