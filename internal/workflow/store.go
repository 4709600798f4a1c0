package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStateNotFound = errors.New("workflow state not found")
)

// Record is a persisted workflow snapshot row.
type Record struct {
	BatchID    uuid.UUID
	Status     Status
	PausePoint PausePoint
	StateData  []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists workflow snapshots. Save upserts by batch id.
type Store interface {
	Save(ctx context.Context, record Record) error
	Find(ctx context.Context, batchID uuid.UUID) (Record, error)
	Delete(ctx context.Context, batchID uuid.UUID) error

	// FindByStatus lists batches currently in the given statuses, used at
	// startup to surface interrupted work.
	FindByStatus(ctx context.Context, statuses ...Status) ([]Record, error)
}
