package ratelimit

import (
	"context"
	"sync"
)

type windowKey struct {
	key    string
	window int64
}

// MemoryStore is an in-process Store for tests and single-instance
// deployments without a database.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[windowKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[windowKey]int64)}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := windowKey{key: key, window: window}
	s.windows[k]++
	return s.windows[k], nil
}

func (s *MemoryStore) Count(_ context.Context, key string, window int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[windowKey{key: key, window: window}], nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.windows {
		if k.key == key {
			delete(s.windows, k)
		}
	}
	return nil
}
