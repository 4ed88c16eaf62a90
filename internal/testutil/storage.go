// Package testutil holds in-memory stand-ins for the pipeline's external
// capabilities.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/receipt-processor/internal/apperr"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Storage is an object store kept in a map.
type Storage struct {
	mu       sync.Mutex
	objects  map[string]object
	presigns []string

	PutErr     error
	PresignErr error
}

func NewStorage() *Storage {
	return &Storage{objects: make(map[string]object)}
}

func (s *Storage) Put(_ context.Context, r io.Reader, _ int64, key, contentType string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (s *Storage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, apperr.Errorf(apperr.KindNotFound, "testutil.Get", "object %s", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.PresignErr != nil {
		return "", s.PresignErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigns = append(s.presigns, key)
	return fmt.Sprintf("https://storage.test/%s?expires=%d", key, int(ttl.Seconds())), nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Storage) CleanupBefore(_ context.Context, prefix string, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) && obj.modified.Before(threshold) {
			delete(s.objects, key)
			n++
		}
	}
	return n, nil
}

func (s *Storage) BaseURL() string { return "https://storage.test" }

// Object returns a stored object's bytes and content type.
func (s *Storage) Object(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj.data, obj.contentType, ok
}

// SetModified backdates an object.
func (s *Storage) SetModified(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		obj.modified = at
		s.objects[key] = obj
	}
}

func (s *Storage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

func (s *Storage) Presigned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.presigns...)
}
