package batches

import (
	"context"

	"github.com/google/uuid"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/workflow"
	"github.com/inkwell-ai/bluebook/pkg/pagination"
)

// System defines the public contract for batch domain operations.
type System interface {
	Handler(maxUploadSize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Batch], error)

	Find(ctx context.Context, id uuid.UUID) (*Batch, error)
	Submit(ctx context.Context, cmd SubmitCommand) (*Batch, error)
	State(ctx context.Context, id uuid.UUID) (*workflow.BatchState, error)
	Result(ctx context.Context, id uuid.UUID) (*grading.BatchResult, error)
	Events(id uuid.UUID) []workflow.Event
	Resume(ctx context.Context, id uuid.UUID, action workflow.ReviewAction) (*workflow.BatchState, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Batch, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// RecoverInterrupted restarts batches that were mid-pipeline when the
	// server last stopped. Called once at startup.
	RecoverInterrupted(ctx context.Context) error
}
