package workflow

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/JaimeStill/go-agents-orchestration/pkg/state"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
)

// IntakeNode validates the submitted batch before any model work starts.
func IntakeNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		bs, err := extractBatchState(s)
		if err != nil {
			return s, fmt.Errorf("intake: %w", err)
		}
		bs.Status = StatusIntake

		if len(bs.Pages) == 0 {
			return s, fmt.Errorf("intake: %w", ErrNoPages)
		}
		if len(bs.RubricRaw) == 0 {
			return s, fmt.Errorf("intake: %w", ErrNoRubric)
		}

		rt.Logger.InfoContext(ctx, "intake complete",
			"batch_id", bs.BatchID,
			"page_count", len(bs.Pages),
		)

		if err := rt.persist(ctx, bs, "batch accepted"); err != nil {
			return s, fmt.Errorf("intake: %w", err)
		}
		return s, nil
	})
}

// PreprocessNode downloads every page and flags blank separator sheets so
// they never reach the grading model.
func PreprocessNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		bs, err := extractBatchState(s)
		if err != nil {
			return s, fmt.Errorf("preprocess: %w", err)
		}
		bs.Status = StatusPreprocess

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rt.Options.Concurrency)

		for i := range bs.Pages {
			g.Go(func() error {
				data, err := rt.downloadPage(gctx, bs.Pages[i].StorageKey)
				if err != nil {
					return fmt.Errorf("page %d: %w", bs.Pages[i].Index, err)
				}
				bs.Pages[i].Blank = isBlankPage(data)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s, fmt.Errorf("preprocess: %w", err)
		}

		blanks := 0
		for _, p := range bs.Pages {
			if p.Blank {
				blanks++
			}
		}
		rt.Logger.InfoContext(ctx, "preprocess complete",
			"batch_id", bs.BatchID,
			"blank_pages", blanks,
		)

		if err := rt.persist(ctx, bs, "pages preprocessed"); err != nil {
			return s, fmt.Errorf("preprocess: %w", err)
		}
		return s, nil
	})
}

// RubricParseNode parses the raw scoring standard into a structured
// rubric. A rubric that parses with problems is kept, flagged for review.
func RubricParseNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		bs, err := extractBatchState(s)
		if err != nil {
			return s, fmt.Errorf("rubric parse: %w", err)
		}
		bs.Status = StatusRubricParse

		r, parseErr := rubric.Parse(bs.RubricRaw)
		if r == nil {
			return s, fmt.Errorf("rubric parse: %w", parseErr)
		}
		if parseErr != nil {
			rt.Logger.WarnContext(ctx, "rubric parsed with problems",
				"batch_id", bs.BatchID,
				"error", parseErr,
			)
		}
		if rt.Options.RequireRubricReview {
			r.NeedsReview = true
		}
		bs.Rubric = r

		if err := rt.persist(ctx, bs, "rubric parsed"); err != nil {
			return s, fmt.Errorf("rubric parse: %w", err)
		}
		return s, nil
	})
}

// GradeNode fans pages out across grading workers and collects results.
// Individual page failures are recorded, never fatal to the batch.
func GradeNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		bs, err := extractBatchState(s)
		if err != nil {
			return s, fmt.Errorf("grade: %w", err)
		}
		bs.Status = StatusGrading
		if err := rt.persist(ctx, bs, "grading started"); err != nil {
			return s, fmt.Errorf("grade: %w", err)
		}

		pages, err := rt.loadPages(ctx, bs.Pages)
		if err != nil {
			return s, fmt.Errorf("grade: %w", err)
		}

		results, records, err := grading.GradeAll(
			ctx, rt.Worker, pages, bs.Rubric,
			rt.Options.BatchSize, rt.Options.Concurrency,
		)
		if err != nil {
			return s, fmt.Errorf("grade: %w", err)
		}

		for i := range records {
			records[i].Context.BatchID = bs.BatchID
		}
		bs.PageResults = results
		bs.Errors = append(bs.Errors, records...)

		rt.Logger.InfoContext(ctx, "grading complete",
			"batch_id", bs.BatchID,
			"pages", len(results),
			"errors", len(records),
		)

		if err := rt.persist(ctx, bs, "grading finished"); err != nil {
			return s, fmt.Errorf("grade: %w", err)
		}
		return s, nil
	})
}

// MergeNode consolidates duplicate page submissions and merges answers
// that continue across page boundaries.
func MergeNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		bs, err := extractBatchState(s)
		if err != nil {
			return s, fmt.Errorf("merge: %w", err)
		}
		bs.Status = StatusCrossPageMerge

		pages, pageDiscrepancies := grading.MergePages(bs.PageResults)

		merger := grading.NewCrossPageMerger(rt.Options.CrossPageThreshold)
		detected := merger.Detect(pages)
		pages, annotated := merger.Merge(pages, bs.Rubric, detected)

		pages, dupDiscrepancies := grading.ResolveDuplicateQuestions(pages)

		bs.PageResults = pages
		bs.CrossPage = annotated
		bs.Discrepancies = append(bs.Discrepancies, pageDiscrepancies...)
		bs.Discrepancies = append(bs.Discrepancies, dupDiscrepancies...)

		if err := rt.persist(ctx, bs, "cross-page merge complete"); err != nil {
			return s, fmt.Errorf("merge: %w", err)
		}
		return s, nil
	})
}

// SegmentNode splits the page sequence into per-student results and
// validates their totals.
func SegmentNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		bs, err := extractBatchState(s)
		if err != nil {
			return s, fmt.Errorf("segment: %w", err)
		}
		bs.Status = StatusSegment

		detector := grading.NewBoundaryDetector(rt.Options.BoundaryThreshold)
		students := detector.Segment(bs.PageResults)
		bs.Students = grading.ValidateTotals(students)

		rt.Logger.InfoContext(ctx, "segmentation complete",
			"batch_id", bs.BatchID,
			"students", len(bs.Students),
		)

		if err := rt.persist(ctx, bs, "students segmented"); err != nil {
			return s, fmt.Errorf("segment: %w", err)
		}
		return s, nil
	})
}

func (rt *Runtime) downloadPage(ctx context.Context, key string) ([]byte, error) {
	blob, err := rt.Storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer blob.Body.Close()
	return io.ReadAll(blob.Body)
}

// loadPages fetches image data for gradable pages. Blank pages keep a
// placeholder entry so page numbering stays intact downstream.
func (rt *Runtime) loadPages(ctx context.Context, refs []PageRef) ([]grading.PageImage, error) {
	pages := make([]grading.PageImage, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rt.Options.Concurrency)

	for i, ref := range refs {
		if ref.Blank {
			pages[i] = grading.PageImage{Index: ref.Index, Blank: true}
			continue
		}
		g.Go(func() error {
			data, err := rt.downloadPage(gctx, refs[i].StorageKey)
			if err != nil {
				return fmt.Errorf("page %d: %w", refs[i].Index, err)
			}
			pages[i] = grading.PageImage{Index: refs[i].Index, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

const (
	blankSampleGrid = 32
	blankDeviation  = 0.015
)

// isBlankPage samples a grid of pixels and reports true when the page is
// near-uniform. Undecodable images are never treated as blank; they go to
// the model, which can report blankness itself.
func isBlankPage(data []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return true
	}

	stepX := bounds.Dx() / blankSampleGrid
	stepY := bounds.Dy() / blankSampleGrid
	if stepX == 0 {
		stepX = 1
	}
	if stepY == 0 {
		stepY = 1
	}

	var values []float64
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			gray := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			values = append(values, gray)
			sum += gray
		}
	}
	if len(values) == 0 {
		return true
	}

	mean := sum / float64(len(values))
	var deviation float64
	for _, v := range values {
		if v > mean {
			deviation += v - mean
		} else {
			deviation += mean - v
		}
	}
	deviation /= float64(len(values))

	return deviation < blankDeviation
}
