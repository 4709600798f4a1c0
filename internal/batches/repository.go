package batches

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/workflow"
	"github.com/inkwell-ai/bluebook/pkg/pagination"
	"github.com/inkwell-ai/bluebook/pkg/query"
	"github.com/inkwell-ai/bluebook/pkg/repository"
	"github.com/inkwell-ai/bluebook/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	engine     *workflow.Engine
	events     *workflow.MemorySink
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a batch repository implementing the System interface. The
// engine's runtime must publish events to the provided sink.
func New(
	db *sql.DB,
	store storage.System,
	engine *workflow.Engine,
	events *workflow.MemorySink,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		engine:     engine,
		events:     events,
		logger:     logger.With("system", "batches"),
		pagination: pagination,
	}
}

func (r *repo) Handler(maxUploadSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxUploadSize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Batch], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Name", "RubricTitle")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanBatch)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Batch, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	b, err := repository.QueryOne(ctx, r.db, q, args, scanBatch)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &b, nil
}

// Submit accepts a batch, stores its pages, and starts the workflow in
// the background. The returned row is in PENDING; callers track progress
// through the state and events endpoints.
func (r *repo) Submit(ctx context.Context, cmd SubmitCommand) (*Batch, error) {
	if len(cmd.Pages) == 0 {
		return nil, fmt.Errorf("%w: at least one page is required", ErrInvalidRequest)
	}
	if len(cmd.RubricData) == 0 {
		return nil, fmt.Errorf("%w: a scoring standard is required", ErrInvalidRequest)
	}
	if cmd.Name == "" {
		cmd.Name = fmt.Sprintf("batch %s", time.Now().UTC().Format("2006-01-02 15:04"))
	}

	id := uuid.New()
	refs, err := r.uploadPages(ctx, id, cmd.Pages)
	if err != nil {
		r.cleanupBlobs(ctx, refs)
		return nil, err
	}

	now := time.Now().UTC()
	bs := &workflow.BatchState{
		BatchID:     id,
		Status:      workflow.StatusPending,
		RubricRaw:   cmd.RubricData,
		Pages:       refs,
		SubmittedAt: now,
	}

	insertQ := `
		INSERT INTO batches(id, name, status, total_pages, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, status, pause_point, total_pages, processed_pages,
				  student_count, rubric_title, submitted_at, updated_at, completed_at`

	insertArgs := []any{id, cmd.Name, string(workflow.StatusPending), len(refs), now}

	b, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Batch, error) {
		return repository.QueryOne(ctx, tx, insertQ, insertArgs, scanBatch)
	})
	if err != nil {
		r.cleanupBlobs(ctx, refs)
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	go r.run(id, func(ctx context.Context) error {
		return r.engine.Start(ctx, bs)
	})

	r.logger.Info("batch submitted", "id", id, "pages", len(refs))
	return &b, nil
}

func (r *repo) State(ctx context.Context, id uuid.UUID) (*workflow.BatchState, error) {
	return r.engine.Load(ctx, id)
}

func (r *repo) Result(ctx context.Context, id uuid.UUID) (*grading.BatchResult, error) {
	bs, err := r.engine.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(bs.Students) == 0 && bs.Status != workflow.StatusFailed {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, bs.Status)
	}
	return bs.Result(), nil
}

func (r *repo) Events(id uuid.UUID) []workflow.Event {
	return r.events.Events(id)
}

// Resume applies a review action. Actions that trigger grading run in the
// background; actions that only touch persisted results apply inline.
func (r *repo) Resume(ctx context.Context, id uuid.UUID, action workflow.ReviewAction) (*workflow.BatchState, error) {
	bs, err := r.engine.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if bs.Status != workflow.StatusWaitingForHuman {
		return nil, fmt.Errorf("%w: status %s", workflow.ErrNotPaused, bs.Status)
	}

	switch bs.PausePoint {
	case workflow.PauseRubric:
		switch action.Type {
		case workflow.ActionConfirmRubric, workflow.ActionModifyRubric:
		default:
			return nil, fmt.Errorf("%w: %q at rubric pause", workflow.ErrInvalidAction, action.Type)
		}

		go r.run(id, func(ctx context.Context) error {
			_, err := r.engine.Resume(ctx, id, action)
			return err
		})
		return bs, nil

	case workflow.PauseResults:
		out, err := r.engine.Resume(ctx, id, action)
		if err != nil {
			return nil, err
		}
		if err := r.syncRow(ctx, out); err != nil {
			r.logger.Warn("batch row sync failed", "id", id, "error", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown pause point %q", workflow.ErrNotPaused, bs.PausePoint)
	}
}

func (r *repo) Cancel(ctx context.Context, id uuid.UUID) (*Batch, error) {
	bs, err := r.engine.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.syncRow(ctx, bs); err != nil {
		r.logger.Warn("batch row sync failed", "id", id, "error", err)
	}
	return r.Find(ctx, id)
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	bs, err := r.engine.Load(ctx, id)
	if err != nil && !errors.Is(err, workflow.ErrStateNotFound) {
		r.logger.Warn("load state for delete failed", "id", id, "error", err)
	}

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM batches WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if err := r.engine.Unregister(ctx, id); err != nil {
		r.logger.Warn("workflow state delete failed", "id", id, "error", err)
	}
	if bs != nil {
		r.cleanupBlobs(ctx, bs.Pages)
	}
	r.events.Drop(id)

	r.logger.Info("batch deleted", "id", id)
	return nil
}

func (r *repo) RecoverInterrupted(ctx context.Context) error {
	records, err := r.engine.Interrupted(ctx)
	if err != nil {
		return fmt.Errorf("list interrupted batches: %w", err)
	}

	for _, record := range records {
		r.logger.Info("recovering interrupted batch",
			"id", record.BatchID,
			"status", record.Status,
		)
		go r.run(record.BatchID, func(ctx context.Context) error {
			return r.engine.Restart(ctx, record.BatchID)
		})
	}
	return nil
}

// run executes a workflow step detached from the request context, then
// mirrors the snapshot into the batches row.
func (r *repo) run(id uuid.UUID, step func(ctx context.Context) error) {
	ctx := context.Background()

	if err := step(ctx); err != nil {
		r.logger.Error("workflow step failed", "id", id, "error", err)
	}

	bs, err := r.engine.Load(ctx, id)
	if err != nil {
		r.logger.Warn("load snapshot after workflow step failed", "id", id, "error", err)
		return
	}
	if err := r.syncRow(ctx, bs); err != nil {
		r.logger.Warn("batch row sync failed", "id", id, "error", err)
	}
}

// syncRow mirrors snapshot summary fields into the batches row.
func (r *repo) syncRow(ctx context.Context, bs *workflow.BatchState) error {
	rubricTitle := ""
	if bs.Rubric != nil {
		rubricTitle = bs.Rubric.Title
	}

	q := `
		UPDATE batches SET
			status = $2,
			pause_point = $3,
			processed_pages = $4,
			student_count = $5,
			rubric_title = $6,
			completed_at = $7,
			updated_at = NOW()
		WHERE id = $1`

	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, repository.ExecExpectOne(ctx, tx, q,
			bs.BatchID,
			string(bs.Status),
			string(bs.PausePoint),
			bs.ProcessedPages(),
			len(bs.Students),
			rubricTitle,
			bs.CompletedAt,
		)
	})
	return err
}

func (r *repo) uploadPages(ctx context.Context, id uuid.UUID, pages []PageUpload) ([]workflow.PageRef, error) {
	refs := make([]workflow.PageRef, 0, len(pages))
	for i, page := range pages {
		if len(page.Data) == 0 {
			return refs, fmt.Errorf("%w: page %d is empty", ErrInvalidRequest, i)
		}

		key := buildPageKey(id, i, page.ContentType)
		if err := r.storage.Upload(ctx, key, bytes.NewReader(page.Data), page.ContentType); err != nil {
			return refs, fmt.Errorf("upload page %d: %w", i, err)
		}
		refs = append(refs, workflow.PageRef{Index: i, StorageKey: key})
	}
	return refs, nil
}

func (r *repo) cleanupBlobs(ctx context.Context, refs []workflow.PageRef) {
	for _, ref := range refs {
		if err := r.storage.Delete(ctx, ref.StorageKey); err != nil {
			r.logger.Warn("compensating blob delete failed", "key", ref.StorageKey, "error", err)
		}
	}
}

func buildPageKey(id uuid.UUID, index int, contentType string) string {
	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("batches/%s/pages/%04d.%s", id, index, ext)
}
