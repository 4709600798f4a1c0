package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	gaoconfig "github.com/JaimeStill/go-agents-orchestration/pkg/config"
	"github.com/JaimeStill/go-agents-orchestration/pkg/state"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
)

// Review actions accepted while a batch waits for a human.
const (
	ActionConfirmRubric  = "confirm_rubric"
	ActionModifyRubric   = "modify_rubric"
	ActionConfirmResults = "confirm_results"
	ActionModifyResult   = "modify_result"
)

// ResultOverride is a manual correction to one student's question score.
// With Regrade set the score is ignored: the pages carrying the question
// are re-run through the grading worker instead.
type ResultOverride struct {
	StudentKey string  `json:"student_key"`
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Comment    string  `json:"comment,omitempty"`
	Regrade    bool    `json:"regrade,omitempty"`
}

// ReviewAction is a reviewer's decision at a pause point.
type ReviewAction struct {
	Type     string          `json:"type"`
	Rubric   []byte          `json:"rubric,omitempty"`
	Override *ResultOverride `json:"override,omitempty"`
}

// Engine drives batches through the grading workflow. Snapshots persist
// after every stage, so an engine on a restarted server picks a batch up
// from its last completed stage rather than regrading from scratch.
type Engine struct {
	rt *Runtime

	mu     sync.Mutex
	active map[uuid.UUID]bool
}

func NewEngine(rt *Runtime) *Engine {
	return &Engine{
		rt:     rt,
		active: make(map[uuid.UUID]bool),
	}
}

// Start runs a newly submitted batch until its first pause point. The
// caller owns bs; Start mutates and persists it as stages complete.
func (e *Engine) Start(ctx context.Context, bs *BatchState) error {
	if err := e.acquire(bs.BatchID); err != nil {
		return err
	}
	defer e.release(bs.BatchID)

	if bs.SubmittedAt.IsZero() {
		bs.SubmittedAt = time.Now().UTC()
	}

	if err := e.runGraph(ctx, bs, "bluebook-prepare",
		stageNode{"intake", IntakeNode(e.rt)},
		stageNode{"preprocess", PreprocessNode(e.rt)},
		stageNode{"rubric_parse", RubricParseNode(e.rt)},
	); err != nil {
		return err
	}

	if bs.Rubric != nil && bs.Rubric.NeedsReview {
		return e.pause(ctx, bs, PauseRubric, "rubric needs confirmation")
	}
	return e.grade(ctx, bs)
}

// Resume applies a review action to a paused batch and continues the
// workflow where the action demands it.
func (e *Engine) Resume(ctx context.Context, batchID uuid.UUID, action ReviewAction) (*BatchState, error) {
	if err := e.acquire(batchID); err != nil {
		return nil, err
	}
	defer e.release(batchID)

	bs, err := e.Load(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if bs.Status != StatusWaitingForHuman {
		return nil, fmt.Errorf("%w: status %s", ErrNotPaused, bs.Status)
	}

	switch bs.PausePoint {
	case PauseRubric:
		err = e.resumeRubric(ctx, bs, action)
	case PauseResults:
		err = e.resumeResults(ctx, bs, action)
	default:
		err = fmt.Errorf("%w: unknown pause point %q", ErrNotPaused, bs.PausePoint)
	}
	if err != nil {
		return nil, err
	}
	return bs, nil
}

func (e *Engine) resumeRubric(ctx context.Context, bs *BatchState, action ReviewAction) error {
	switch action.Type {
	case ActionConfirmRubric:
		bs.Rubric.NeedsReview = false

	case ActionModifyRubric:
		if len(action.Rubric) == 0 {
			return fmt.Errorf("%w: modify_rubric requires a rubric", ErrInvalidAction)
		}
		r, err := rubric.Parse(action.Rubric)
		if r == nil || err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAction, err)
		}
		r.NeedsReview = false

		// Grades cached against the rejected rubric must never be served
		// again. Cache failures degrade, never block the correction.
		if e.rt.Cache != nil && bs.Rubric != nil {
			count, err := e.rt.Cache.Invalidate(ctx, bs.Rubric)
			if err != nil {
				e.rt.Logger.Warn("rubric cache invalidation failed",
					"batch_id", bs.BatchID,
					"error", err,
				)
			} else if count > 0 {
				e.rt.Logger.Info("rubric cache invalidated",
					"batch_id", bs.BatchID,
					"entries", count,
				)
			}
		}

		bs.Rubric = r
		bs.RubricRaw = action.Rubric

	default:
		return fmt.Errorf("%w: %q at rubric pause", ErrInvalidAction, action.Type)
	}

	bs.PausePoint = PauseNone
	return e.grade(ctx, bs)
}

func (e *Engine) resumeResults(ctx context.Context, bs *BatchState, action ReviewAction) error {
	switch action.Type {
	case ActionConfirmResults:
		now := time.Now().UTC()
		bs.Status = StatusCompleted
		bs.PausePoint = PauseNone
		bs.CompletedAt = &now

		reviewed := make([]grading.StudentResult, len(bs.Students))
		for i, s := range bs.Students {
			reviewed[i] = s.Confirm(now)
		}
		bs.Students = reviewed

		return e.rt.persist(ctx, bs, "results confirmed")

	case ActionModifyResult:
		if action.Override == nil {
			return fmt.Errorf("%w: modify_result requires an override", ErrInvalidAction)
		}
		if action.Override.Regrade {
			return e.regrade(ctx, bs, *action.Override)
		}
		if err := applyOverride(bs, *action.Override); err != nil {
			return err
		}
		// The batch stays paused; the reviewer confirms once all
		// corrections are in.
		return e.rt.persist(ctx, bs, "result corrected")

	default:
		return fmt.Errorf("%w: %q at results pause", ErrInvalidAction, action.Type)
	}
}

// regrade re-runs the pages carrying one disputed question through the
// grading worker, then rebuilds the merged and segmented results. Fresh
// attempts displace the originals during the page merge, and the batch
// returns to the results pause for the reviewer's verdict.
func (e *Engine) regrade(ctx context.Context, bs *BatchState, override ResultOverride) error {
	target, err := findQuestion(bs, override)
	if err != nil {
		return err
	}

	var refs []PageRef
	for _, ref := range bs.Pages {
		for _, idx := range target.PageIndices {
			if ref.Index == idx && !ref.Blank {
				refs = append(refs, ref)
			}
		}
	}
	if len(refs) == 0 {
		return fmt.Errorf("%w: no gradable pages carry question %s",
			ErrInvalidAction, override.QuestionID)
	}

	attempt := nextAttempt(bs.PageResults, target.PageIndices)

	bs.Status = StatusGrading
	bs.PausePoint = PauseNone
	if err := e.rt.persist(ctx, bs, "regrading question "+override.QuestionID); err != nil {
		return err
	}

	pages, err := e.rt.loadPages(ctx, refs)
	if err != nil {
		e.fail(ctx, bs, err)
		return err
	}

	// The cached grade for these pages is exactly what the reviewer
	// disputes; evict so the worker reaches the model.
	if e.rt.Cache != nil {
		for _, page := range pages {
			if page.Blank {
				continue
			}
			if err := e.rt.Cache.Evict(ctx, bs.Rubric, page.Data); err != nil {
				e.rt.Logger.Warn("cache eviction failed",
					"batch_id", bs.BatchID,
					"page", page.Index,
					"error", err,
				)
			}
		}
	}

	results, records := e.rt.Worker.GradeBatch(ctx, pages, bs.Rubric, 0)
	for _, result := range results {
		// A failed re-grade keeps the original result in place.
		if result.Failed {
			continue
		}
		result.Attempt = attempt
		bs.PageResults = append(bs.PageResults, result)
	}
	for i := range records {
		records[i].Context.BatchID = bs.BatchID
		records[i].Context.QuestionID = override.QuestionID
	}
	bs.Errors = append(bs.Errors, records...)

	return e.runThenPause(ctx, bs, "bluebook-consolidate",
		stageNode{"merge", MergeNode(e.rt)},
		stageNode{"segment", SegmentNode(e.rt)},
	)
}

func findQuestion(bs *BatchState, override ResultOverride) (*grading.QuestionResult, error) {
	for si := range bs.Students {
		student := &bs.Students[si]
		if student.StudentKey != override.StudentKey {
			continue
		}
		for qi := range student.QuestionResults {
			if student.QuestionResults[qi].QuestionID == override.QuestionID {
				return &student.QuestionResults[qi], nil
			}
		}
		return nil, fmt.Errorf("%w: question %s not found for student %s",
			ErrInvalidAction, override.QuestionID, override.StudentKey)
	}
	return nil, fmt.Errorf("%w: student %s not found", ErrInvalidAction, override.StudentKey)
}

// nextAttempt returns an attempt number that outranks every prior result
// on the given pages.
func nextAttempt(results []grading.PageResult, indices []int) int {
	highest := 0
	for _, r := range results {
		for _, idx := range indices {
			if r.PageIndex == idx && r.Attempt > highest {
				highest = r.Attempt
			}
		}
	}
	return highest + 1
}

// Restart continues an interrupted batch from its persisted snapshot.
func (e *Engine) Restart(ctx context.Context, batchID uuid.UUID) error {
	if err := e.acquire(batchID); err != nil {
		return err
	}
	defer e.release(batchID)

	bs, err := e.Load(ctx, batchID)
	if err != nil {
		return err
	}

	switch bs.Status {
	case StatusPending, StatusIntake, StatusPreprocess, StatusRubricParse:
		if err := e.runGraph(ctx, bs, "bluebook-prepare",
			stageNode{"intake", IntakeNode(e.rt)},
			stageNode{"preprocess", PreprocessNode(e.rt)},
			stageNode{"rubric_parse", RubricParseNode(e.rt)},
		); err != nil {
			return err
		}
		if bs.Rubric != nil && bs.Rubric.NeedsReview {
			return e.pause(ctx, bs, PauseRubric, "rubric needs confirmation")
		}
		return e.grade(ctx, bs)

	case StatusGrading:
		return e.grade(ctx, bs)

	case StatusCrossPageMerge, StatusSegment:
		// Graded results survived; redo only the consolidation stages.
		return e.runThenPause(ctx, bs, "bluebook-consolidate",
			stageNode{"merge", MergeNode(e.rt)},
			stageNode{"segment", SegmentNode(e.rt)},
		)

	case StatusWaitingForHuman:
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrTerminal, bs.Status)
	}
}

// Cancel moves a non-terminal batch to CANCELLED, retaining its state.
func (e *Engine) Cancel(ctx context.Context, batchID uuid.UUID) (*BatchState, error) {
	bs, err := e.Load(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if bs.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, bs.Status)
	}

	bs.Status = StatusCancelled
	bs.PausePoint = PauseNone
	if err := e.rt.persist(ctx, bs, "batch cancelled"); err != nil {
		return nil, err
	}
	return bs, nil
}

// Load restores a batch snapshot from the store.
func (e *Engine) Load(ctx context.Context, batchID uuid.UUID) (*BatchState, error) {
	record, err := e.rt.Store.Find(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return UnmarshalBatchState(record.StateData)
}

// Unregister removes a batch's persisted snapshot.
func (e *Engine) Unregister(ctx context.Context, batchID uuid.UUID) error {
	return e.rt.Store.Delete(ctx, batchID)
}

// Interrupted lists batches that were mid-pipeline when the server
// stopped.
func (e *Engine) Interrupted(ctx context.Context) ([]Record, error) {
	return e.rt.Store.FindByStatus(ctx,
		StatusPending, StatusIntake, StatusPreprocess, StatusRubricParse,
		StatusGrading, StatusCrossPageMerge, StatusSegment,
	)
}

func (e *Engine) grade(ctx context.Context, bs *BatchState) error {
	return e.runThenPause(ctx, bs, "bluebook-grade",
		stageNode{"grade", GradeNode(e.rt)},
		stageNode{"merge", MergeNode(e.rt)},
		stageNode{"segment", SegmentNode(e.rt)},
	)
}

func (e *Engine) runThenPause(ctx context.Context, bs *BatchState, name string, nodes ...stageNode) error {
	if err := e.runGraph(ctx, bs, name, nodes...); err != nil {
		return err
	}
	return e.pause(ctx, bs, PauseResults, "results ready for review")
}

func (e *Engine) pause(ctx context.Context, bs *BatchState, point PausePoint, message string) error {
	bs.Status = StatusWaitingForHuman
	bs.PausePoint = point
	return e.rt.persist(ctx, bs, message)
}

type stageNode struct {
	name string
	node state.StateNode
}

// runGraph executes the given stages as a linear state graph. On failure
// the batch lands in FAILED with its partial state intact.
func (e *Engine) runGraph(ctx context.Context, bs *BatchState, name string, nodes ...stageNode) error {
	graph, err := buildLinearGraph(name, nodes)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	initial := state.New(nil)
	initial = initial.Set(KeyBatchState, bs)

	if _, err := graph.Execute(ctx, initial); err != nil {
		e.fail(ctx, bs, err)
		return err
	}
	return nil
}

// fail preserves partial state under FAILED. Persistence errors here are
// logged, not returned; the stage error is the one the caller needs.
func (e *Engine) fail(ctx context.Context, bs *BatchState, cause error) {
	bs.Status = StatusFailed
	bs.PausePoint = PauseNone
	bs.Errors = append(bs.Errors, grading.ErrorRecord{
		Type:       grading.ErrorTypeValidation,
		Message:    cause.Error(),
		Context:    grading.ErrorContext{BatchID: bs.BatchID},
		OccurredAt: time.Now().UTC(),
	})

	if err := e.rt.persist(ctx, bs, "batch failed"); err != nil {
		e.rt.Logger.Error("persist failed batch",
			"batch_id", bs.BatchID,
			"error", err,
		)
	}
}

func buildLinearGraph(name string, nodes []stageNode) (state.StateGraph, error) {
	cfg := gaoconfig.DefaultGraphConfig(name)
	cfg.Observer = "noop"

	graph, err := state.NewGraph(cfg)
	if err != nil {
		return nil, err
	}

	for _, n := range nodes {
		if err := graph.AddNode(n.name, n.node); err != nil {
			return nil, err
		}
	}
	for i := 0; i+1 < len(nodes); i++ {
		if err := graph.AddEdge(nodes[i].name, nodes[i+1].name, nil); err != nil {
			return nil, err
		}
	}
	if err := graph.SetEntryPoint(nodes[0].name); err != nil {
		return nil, err
	}
	if err := graph.SetExitPoint(nodes[len(nodes)-1].name); err != nil {
		return nil, err
	}
	return graph, nil
}

func applyOverride(bs *BatchState, override ResultOverride) error {
	qr, err := findQuestion(bs, override)
	if err != nil {
		return err
	}
	if override.Score < 0 || (qr.MaxScore > 0 && override.Score > qr.MaxScore) {
		return fmt.Errorf("%w: score %.2f out of range for question %s",
			ErrInvalidAction, override.Score, override.QuestionID)
	}

	// The adjustment carries the score delta so the question total stays
	// equal to the sum of awarded points.
	delta := override.Score - qr.Score
	qr.Score = override.Score
	qr.Confidence = 1
	qr.ScoringPointResults = append(qr.ScoringPointResults, grading.PointResult{
		Description: "reviewer adjustment",
		Awarded:     delta,
		Comment:     override.Comment,
	})

	for si := range bs.Students {
		student := &bs.Students[si]
		if student.StudentKey != override.StudentKey {
			continue
		}
		var total float64
		for _, q := range student.QuestionResults {
			total += q.Score
		}
		student.TotalScore = total
		student.NeedsConfirmation = false
	}
	return nil
}

func (e *Engine) acquire(batchID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[batchID] {
		return fmt.Errorf("batch %s is already being processed", batchID)
	}
	e.active[batchID] = true
	return nil
}

func (e *Engine) release(batchID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, batchID)
}
