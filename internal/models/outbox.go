package models

import "time"

// OutboxMessage is a queued job committed in the same transaction as the
// Document it belongs to. A relay enqueues it until DispatchedAt is set.
type OutboxMessage struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"documentId"`
	Queue        string     `json:"queue"`
	TaskType     string     `json:"taskType"`
	Payload      []byte     `json:"payload"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
}

func (m *OutboxMessage) Dispatched() bool {
	return m.DispatchedAt != nil
}
