package grading_test

import (
	"testing"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
)

func crossPageRubric() *rubric.Rubric {
	return &rubric.Rubric{
		Title: "Final",
		Questions: []rubric.Question{
			{ID: "5", MaxScore: 7, ScoringPoints: []rubric.ScoringPoint{
				{Description: "setup", Value: 3},
				{Description: "solution", Value: 4},
			}},
			{ID: "7a", MaxScore: 4, ScoringPoints: []rubric.ScoringPoint{{Description: "part a", Value: 4}}},
			{ID: "7b", MaxScore: 4, ScoringPoints: []rubric.ScoringPoint{{Description: "part b", Value: 4}}},
		},
	}
}

func question(id, qid string, score, max, confidence float64, complete bool, points ...grading.PointResult) grading.QuestionResult {
	return grading.QuestionResult{
		ID:                  id,
		QuestionID:          qid,
		Score:               score,
		MaxScore:            max,
		Confidence:          confidence,
		ScoringPointResults: points,
		AnswerComplete:      complete,
	}
}

// An answer to question 5 spans two pages. The merged result re-sums the
// awarded points from both partials but keeps the rubric's maximum, never
// the sum of the two partial maxima.
func TestMergeSplitAnswer(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("p0-q5", "5", 3, 3, 0.9, false,
				grading.PointResult{Description: "setup", Value: 3, Awarded: 3}),
		}},
		{PageIndex: 1, Results: []grading.QuestionResult{
			question("p1-q5", "5", 4, 4, 0.9, true,
				grading.PointResult{Description: "solution", Value: 4, Awarded: 4}),
		}},
	}

	merger := grading.NewCrossPageMerger(0.8)
	detected := merger.Detect(pages)
	if len(detected) != 1 {
		t.Fatalf("detections: got %d, want 1", len(detected))
	}
	if detected[0].Confidence < 0.9 {
		t.Errorf("incomplete-then-continues should boost confidence, got %.2f", detected[0].Confidence)
	}

	merged, annotated := merger.Merge(pages, crossPageRubric(), detected)
	if !annotated[0].Merged {
		t.Error("detection at threshold should be marked merged")
	}

	var combined *grading.QuestionResult
	for i := range merged {
		for j := range merged[i].Results {
			if merged[i].Results[j].QuestionID == "5" {
				if combined != nil {
					t.Fatal("partial results were not consumed by the merge")
				}
				combined = &merged[i].Results[j]
			}
		}
	}
	if combined == nil {
		t.Fatal("merged result missing")
	}
	if !combined.IsCrossPage {
		t.Error("merged result must be flagged cross-page")
	}
	if combined.Score != 7 {
		t.Errorf("score: got %g, want 7", combined.Score)
	}
	if combined.MaxScore != 7 {
		t.Errorf("max score: got %g, want the rubric's 7", combined.MaxScore)
	}
	if len(combined.MergeSource) != 2 {
		t.Errorf("merge sources: got %d, want 2", len(combined.MergeSource))
	}
	if len(combined.PageIndices) != 2 || combined.PageIndices[0] != 0 || combined.PageIndices[1] != 1 {
		t.Errorf("page indices: got %v, want [0 1]", combined.PageIndices)
	}
}

// Sub-questions with distinct ids never merge even when adjacent.
func TestDetectRequiresExactQuestionID(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("p0-7a", "7a", 4, 4, 0.9, true),
		}},
		{PageIndex: 1, Results: []grading.QuestionResult{
			question("p1-7b", "7b", 4, 4, 0.9, true),
		}},
	}

	detected := grading.NewCrossPageMerger(0.8).Detect(pages)
	if len(detected) != 0 {
		t.Errorf("7a/7b must not be merge candidates, got %+v", detected)
	}
}

func TestDetectSkipsNonAdjacentPages(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{question("a", "5", 3, 3, 0.9, true)}},
		{PageIndex: 2, Results: []grading.QuestionResult{question("b", "5", 4, 4, 0.9, true)}},
	}

	detected := grading.NewCrossPageMerger(0.8).Detect(pages)
	if len(detected) != 0 {
		t.Errorf("pages 0 and 2 are not adjacent, got %+v", detected)
	}
}

func TestDetectFailedPageBreaksAdjacency(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{question("a", "5", 3, 3, 0.9, true)}},
		{PageIndex: 1, Failed: true},
		{PageIndex: 2, Results: []grading.QuestionResult{question("b", "5", 4, 4, 0.9, true)}},
	}

	detected := grading.NewCrossPageMerger(0.8).Detect(pages)
	if len(detected) != 0 {
		t.Errorf("a failed page between occurrences must break the chain, got %+v", detected)
	}
}

// Low-confidence candidates stay unmerged but are still surfaced for the
// reviewer with Merged=false.
func TestMergeBelowThresholdAnnotatesOnly(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("a", "5", 3, 3, 0.3, true,
				grading.PointResult{Description: "setup", Value: 3, Awarded: 3}),
		}},
		{PageIndex: 1, Results: []grading.QuestionResult{
			question("b", "5", 4, 4, 0.3, true,
				grading.PointResult{Description: "solution", Value: 4, Awarded: 4}),
		}},
	}

	merger := grading.NewCrossPageMerger(0.8)
	detected := merger.Detect(pages)
	if len(detected) != 1 {
		t.Fatalf("detections: got %d, want 1", len(detected))
	}
	// complete answer, low partial confidence: 0.8 * 0.8 = 0.64
	if detected[0].Confidence >= 0.8 {
		t.Errorf("confidence: got %.2f, want below threshold", detected[0].Confidence)
	}

	merged, annotated := merger.Merge(pages, crossPageRubric(), detected)
	if annotated[0].Merged {
		t.Error("below-threshold candidate must not be marked merged")
	}
	for _, p := range merged {
		for _, qr := range p.Results {
			if qr.IsCrossPage {
				t.Error("below-threshold candidate must not be merged")
			}
		}
	}
}

// A detection that no longer matches the page results, as after a targeted
// re-grade replaced one page, must not consume the surviving partial.
func TestMergeStaleDetectionKeepsLonePartial(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("p0-q5", "5", 3, 7, 0.9, false,
				grading.PointResult{Description: "setup", Value: 3, Awarded: 3}),
		}},
		{PageIndex: 1, Results: []grading.QuestionResult{
			question("p1-7a", "7a", 4, 4, 0.9, true),
		}},
	}
	stale := []grading.CrossPageQuestion{
		{QuestionID: "5", PageIndices: []int{0, 1}, Confidence: 0.9},
	}

	merged, _ := grading.NewCrossPageMerger(0.8).Merge(pages, crossPageRubric(), stale)

	var survivor *grading.QuestionResult
	for i := range merged {
		for j := range merged[i].Results {
			if merged[i].Results[j].QuestionID == "5" {
				survivor = &merged[i].Results[j]
			}
		}
	}
	if survivor == nil {
		t.Fatal("lone partial was dropped")
	}
	if survivor.IsCrossPage {
		t.Error("a single partial must not be rewritten as a cross-page merge")
	}
	if survivor.Score != 3 {
		t.Errorf("score: got %g, want the partial's 3", survivor.Score)
	}
}

// A three-page answer merges into one result; an unrelated later occurrence
// of the same question id (a different student's exam) stays separate.
func TestMergeChainsContiguousRunsOnly(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("a", "5", 2, 3, 0.9, false, grading.PointResult{Description: "setup", Value: 3, Awarded: 2}),
		}},
		{PageIndex: 1, Results: []grading.QuestionResult{
			question("b", "5", 2, 2, 0.9, false, grading.PointResult{Description: "work", Value: 2, Awarded: 2}),
		}},
		{PageIndex: 2, Results: []grading.QuestionResult{
			question("c", "5", 2, 2, 0.9, true, grading.PointResult{Description: "solution", Value: 2, Awarded: 2}),
		}},
		{PageIndex: 5, Results: []grading.QuestionResult{
			question("d", "5", 1, 3, 0.9, false, grading.PointResult{Description: "setup", Value: 3, Awarded: 1}),
		}},
		{PageIndex: 6, Results: []grading.QuestionResult{
			question("e", "5", 3, 4, 0.9, true, grading.PointResult{Description: "solution", Value: 4, Awarded: 3}),
		}},
	}

	merger := grading.NewCrossPageMerger(0.8)
	merged, _ := merger.Merge(pages, crossPageRubric(), merger.Detect(pages))

	var combined []grading.QuestionResult
	for _, p := range merged {
		for _, qr := range p.Results {
			if qr.IsCrossPage {
				combined = append(combined, qr)
			}
		}
	}
	if len(combined) != 2 {
		t.Fatalf("merged results: got %d, want 2 independent runs", len(combined))
	}

	for _, qr := range combined {
		switch len(qr.PageIndices) {
		case 3:
			if qr.Score != 6 {
				t.Errorf("three-page run score: got %g, want 6", qr.Score)
			}
		case 2:
			if qr.Score != 4 {
				t.Errorf("two-page run score: got %g, want 4", qr.Score)
			}
		default:
			t.Errorf("unexpected run span %v", qr.PageIndices)
		}
	}
}
