package models

import (
	"path"
	"time"
)

// Document is the ledger record that tracks one submitted receipt.
type Document struct {
	ID            string    `json:"id"`
	FileID        string    `json:"fileId"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StoredFile describes the uploaded object. Immutable once written.
type StoredFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Extension   string    `json:"extension"`
	BaseURL     string    `json:"baseUrl"`
	Folder      string    `json:"folder"`
	Key         string    `json:"file"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ObjectKey is the full key inside the bucket.
func (f *StoredFile) ObjectKey() string {
	if f.Folder == "" {
		return f.Key
	}
	return path.Join(f.Folder, f.Key)
}

// RawText is one OCR attempt for a file. Append-only.
type RawText struct {
	ID        string    `json:"id"`
	FileID    string    `json:"fileId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocumentDetails is what GetByID returns: the document plus its most recent result, if any.
type DocumentDetails struct {
	Document
	Details *StructuredResult `json:"details"`
}
