package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]Record)}
}

func (s *MemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.records[record.BatchID]; ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[record.BatchID] = record
	return nil
}

func (s *MemoryStore) Find(_ context.Context, batchID uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[batchID]
	if !ok {
		return Record{}, ErrStateNotFound
	}
	return record, nil
}

func (s *MemoryStore) Delete(_ context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, batchID)
	return nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, statuses ...Status) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[Status]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	var records []Record
	for _, record := range s.records {
		if wanted[record.Status] {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}
