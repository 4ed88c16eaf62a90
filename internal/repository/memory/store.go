// Package memory is an in-process repository.Store for tests. A failed
// commit leaves nothing behind, as in the postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// CommitHook runs just before a multi-row write commits. Returning an
// error aborts the write.
type CommitHook func(op string) error

type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	documents map[string]models.Document
	files     map[string]models.StoredFile
	rawTexts  []models.RawText
	results   []models.StructuredResult
	outbox    map[string]models.OutboxMessage
	history   map[string][]models.Status
	hook      CommitHook
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		documents: make(map[string]models.Document),
		files:     make(map[string]models.StoredFile),
		outbox:    make(map[string]models.OutboxMessage),
		history:   make(map[string][]models.Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook installs (or clears, with nil) the commit hook.
func (s *Store) SetCommitHook(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

func (s *Store) commit(op string) error {
	if s.hook == nil {
		return nil
	}
	if err := s.hook(op); err != nil {
		return apperr.E(apperr.KindPersistence, op, err)
	}
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, apperr.Errorf(apperr.KindNotFound, "memory.GetDocument", "document %s", id)
	}
	return &doc, nil
}

func (s *Store) TransitionStatus(_ context.Context, id string, target models.Status, reason string) (models.TransitionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, target, reason)
}

func (s *Store) transitionLocked(id string, target models.Status, reason string) (models.TransitionOutcome, error) {
	doc, ok := s.documents[id]
	if !ok {
		return 0, apperr.Errorf(apperr.KindNotFound, "memory.TransitionStatus", "document %s", id)
	}
	outcome, err := models.DecideTransition(doc.Status, target)
	if err != nil {
		return 0, err
	}
	if outcome != models.TransitionApply {
		return outcome, nil
	}
	doc.Status = target
	if target == models.StatusFailed {
		doc.FailureReason = reason
	}
	doc.UpdatedAt = s.now()
	s.documents[id] = doc
	s.history[id] = append(s.history[id], target)
	return outcome, nil
}

func (s *Store) GetFile(_ context.Context, id string) (*models.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, apperr.Errorf(apperr.KindNotFound, "memory.GetFile", "file %s", id)
	}
	return &f, nil
}

func (s *Store) InsertRawText(_ context.Context, rt *models.RawText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[rt.FileID]; !ok {
		return apperr.Errorf(apperr.KindPersistence, "memory.InsertRawText", "file %s does not exist", rt.FileID)
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt.CreatedAt = s.now()
	s.rawTexts = append(s.rawTexts, *rt)
	return nil
}

// LatestRawText uses insertion order, which also breaks created_at ties.
func (s *Store) LatestRawText(_ context.Context, fileID string) (*models.RawText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rawTexts) - 1; i >= 0; i-- {
		if s.rawTexts[i].FileID == fileID {
			rt := s.rawTexts[i]
			return &rt, nil
		}
	}
	return nil, apperr.Errorf(apperr.KindNotFound, "memory.LatestRawText", "no raw text for file %s", fileID)
}

func (s *Store) CompleteStructuring(_ context.Context, result *models.StructuredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[result.DocumentID]
	if !ok {
		return apperr.Errorf(apperr.KindNotFound, "memory.CompleteStructuring", "document %s", result.DocumentID)
	}
	outcome, err := models.DecideTransition(doc.Status, models.StatusStructuringDone)
	if err != nil {
		return apperr.E(apperr.KindPersistence, "memory.CompleteStructuring", err)
	}
	if outcome != models.TransitionApply {
		return apperr.Errorf(apperr.KindPersistence, "memory.CompleteStructuring",
			"document %s is %s: %w", doc.ID, doc.Status, models.ErrInvalidTransition)
	}
	if err := s.commit("memory.CompleteStructuring"); err != nil {
		return err
	}

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	result.CreatedAt = s.now()
	s.results = append(s.results, cloneResult(*result))
	_, err = s.transitionLocked(doc.ID, models.StatusStructuringDone, "")
	return err
}

func (s *Store) LatestResult(_ context.Context, documentID string) (*models.StructuredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].DocumentID == documentID {
			r := cloneResult(s.results[i])
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateSubmission(_ context.Context, file *models.StoredFile, doc *models.Document, msg *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return apperr.Errorf(apperr.KindPersistence, "memory.CreateSubmission", "document %s already exists", doc.ID)
	}
	if err := s.commit("memory.CreateSubmission"); err != nil {
		return err
	}

	now := s.now()
	file.CreatedAt = now
	doc.CreatedAt, doc.UpdatedAt = now, now
	msg.CreatedAt = now

	s.files[file.ID] = *file
	s.documents[doc.ID] = *doc
	s.outbox[msg.ID] = *msg
	s.history[doc.ID] = append(s.history[doc.ID], doc.Status)
	return nil
}

func (s *Store) PendingOutbox(_ context.Context, createdBefore time.Time, limit int) ([]models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.OutboxMessage
	for _, m := range s.outbox {
		if m.DispatchedAt == nil && !m.CreatedAt.After(createdBefore) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkDispatched(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return apperr.Errorf(apperr.KindNotFound, "memory.MarkDispatched", "outbox message %s", id)
	}
	m.DispatchedAt = &at
	s.outbox[id] = m
	return nil
}

func (s *Store) RecordOutboxFailure(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return apperr.Errorf(apperr.KindNotFound, "memory.RecordOutboxFailure", "outbox message %s", id)
	}
	m.Attempts++
	m.LastError = reason
	s.outbox[id] = m
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// Test helpers.

// PutFile stores a file directly, bypassing CreateSubmission.
func (s *Store) PutFile(f models.StoredFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
}

// PutDocument stores a document directly, bypassing CreateSubmission.
func (s *Store) PutDocument(d models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[d.ID] = d
	s.history[d.ID] = append(s.history[d.ID], d.Status)
}

// History lists every status the document has held, in order.
func (s *Store) History(documentID string) []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.history[documentID]...)
}

func (s *Store) RawTextsFor(fileID string) []models.RawText {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RawText
	for _, rt := range s.rawTexts {
		if rt.FileID == fileID {
			out = append(out, rt)
		}
	}
	return out
}

func (s *Store) ResultsFor(documentID string) []models.StructuredResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StructuredResult
	for _, r := range s.results {
		if r.DocumentID == documentID {
			out = append(out, cloneResult(r))
		}
	}
	return out
}

func (s *Store) OutboxMessage(id string) (models.OutboxMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	return m, ok
}

func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memory.Store{documents:%d files:%d rawTexts:%d results:%d}",
		len(s.documents), len(s.files), len(s.rawTexts), len(s.results))
}

func cloneResult(r models.StructuredResult) models.StructuredResult {
	r.Items = append([]models.LineItem(nil), r.Items...)
	return r
}
