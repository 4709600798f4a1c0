package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event reports batch progress to observers.
type Event struct {
	BatchID    uuid.UUID `json:"batch_id"`
	Stage      Status    `json:"stage"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventSink receives progress events. Implementations must be safe for
// concurrent use; a slow sink must not block the workflow.
type EventSink interface {
	Publish(event Event)
}

// MemorySink retains the most recent events per batch for the progress
// endpoint to replay.
type MemorySink struct {
	mu     sync.RWMutex
	limit  int
	events map[uuid.UUID][]Event
}

func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 100
	}
	return &MemorySink{
		limit:  limit,
		events: make(map[uuid.UUID][]Event),
	}
}

func (s *MemorySink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := append(s.events[event.BatchID], event)
	if len(events) > s.limit {
		events = events[len(events)-s.limit:]
	}
	s.events[event.BatchID] = events
}

// Events returns the retained events for a batch, oldest first.
func (s *MemorySink) Events(batchID uuid.UUID) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[batchID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Drop discards retained events for a batch.
func (s *MemorySink) Drop(batchID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, batchID)
}
