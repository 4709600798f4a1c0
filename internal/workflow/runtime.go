package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
	"github.com/inkwell-ai/bluebook/pkg/storage"
)

// ResultCache is the cache maintenance surface the workflow drives.
// Invalidate drops every grade cached against a rubric; Evict drops the
// entry for one page image so a targeted re-grade reaches the model.
type ResultCache interface {
	Invalidate(ctx context.Context, r *rubric.Rubric) (int, error)
	Evict(ctx context.Context, r *rubric.Rubric, image []byte) error
}

// Options are the orchestration knobs shared by workflow nodes.
type Options struct {
	// Concurrency bounds in-flight grading batches; BatchSize sets pages
	// per batch.
	Concurrency int
	BatchSize   int

	// BoundaryThreshold is the minimum student identity confidence that
	// starts a new student group. CrossPageThreshold is the minimum
	// continuation confidence that merges an answer across pages.
	BoundaryThreshold  float64
	CrossPageThreshold float64

	// RequireRubricReview pauses every batch for rubric confirmation even
	// when the rubric parsed cleanly.
	RequireRubricReview bool
}

// Runtime bundles the dependencies that workflow nodes require. It is
// constructed by higher-level composition code from Infrastructure and
// Domain systems.
type Runtime struct {
	Worker  *grading.Worker
	Storage storage.System
	Store   Store
	Cache   ResultCache
	Events  EventSink
	Options Options
	Logger  *slog.Logger
}

// persist saves the snapshot and publishes a progress event. Persistence
// failures propagate; event delivery is best effort.
func (rt *Runtime) persist(ctx context.Context, bs *BatchState, message string) error {
	prev, err := rt.Store.Find(ctx, bs.BatchID)
	switch {
	case err == nil:
		if prev.Status != bs.Status &&
			!CanTransition(prev.Status, bs.Status) &&
			!canReplay(prev.Status, bs.Status) {
			return fmt.Errorf("%w: %s to %s",
				ErrInvalidTransition, prev.Status, bs.Status)
		}
	case !errors.Is(err, ErrStateNotFound):
		return err
	}

	bs.UpdatedAt = time.Now().UTC()

	data, err := bs.Marshal()
	if err != nil {
		return err
	}

	if err := rt.Store.Save(ctx, Record{
		BatchID:    bs.BatchID,
		Status:     bs.Status,
		PausePoint: bs.PausePoint,
		StateData:  data,
	}); err != nil {
		return err
	}

	if rt.Events != nil {
		rt.Events.Publish(Event{
			BatchID:    bs.BatchID,
			Stage:      bs.Status,
			Percentage: bs.Status.progress(),
			Message:    message,
			OccurredAt: bs.UpdatedAt,
		})
	}
	return nil
}
