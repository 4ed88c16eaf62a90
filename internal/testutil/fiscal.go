package testutil

import (
	"context"
	"encoding/json"
	"sync"
)

// Fiscal records consulted access keys.
type Fiscal struct {
	mu   sync.Mutex
	keys []string
	Err  error
}

func (f *Fiscal) Consult(_ context.Context, accessKey string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, accessKey)
	if f.Err != nil {
		return nil, f.Err
	}
	return json.RawMessage(`{"status":"authorized"}`), nil
}

func (f *Fiscal) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}
