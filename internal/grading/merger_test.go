package grading_test

import (
	"testing"

	"github.com/inkwell-ai/bluebook/internal/grading"
)

func TestMergePagesLatestAttemptWins(t *testing.T) {
	results := []grading.PageResult{
		{PageIndex: 0, Attempt: 0, BatchIndex: 0, Results: []grading.QuestionResult{
			question("first", "1", 2, 5, 0.6, true),
		}},
		{PageIndex: 0, Attempt: 1, BatchIndex: 0, Results: []grading.QuestionResult{
			question("retry", "1", 4, 5, 0.9, true),
		}},
		{PageIndex: 1, Attempt: 0, BatchIndex: 1, Results: []grading.QuestionResult{
			question("other", "2", 3, 3, 0.9, true),
		}},
	}

	merged, discrepancies := grading.MergePages(results)
	if len(merged) != 2 {
		t.Fatalf("pages: got %d, want 2", len(merged))
	}
	if merged[0].PageIndex != 0 || merged[1].PageIndex != 1 {
		t.Errorf("pages out of order: %d, %d", merged[0].PageIndex, merged[1].PageIndex)
	}
	if merged[0].Results[0].ID != "retry" {
		t.Errorf("winner: got %q, want the retried attempt", merged[0].Results[0].ID)
	}
	if len(discrepancies) != 1 {
		t.Fatalf("discrepancies: got %d, want 1", len(discrepancies))
	}
	if discrepancies[0].PageIndex != 0 || discrepancies[0].QuestionID != "1" {
		t.Errorf("discrepancy: %+v", discrepancies[0])
	}
}

func TestMergePagesBatchOrderBreaksTies(t *testing.T) {
	results := []grading.PageResult{
		{PageIndex: 3, Attempt: 0, BatchIndex: 0, Results: []grading.QuestionResult{
			question("early", "1", 2, 5, 0.7, true),
		}},
		{PageIndex: 3, Attempt: 0, BatchIndex: 2, Results: []grading.QuestionResult{
			question("late", "1", 3, 5, 0.7, true),
		}},
	}

	merged, _ := grading.MergePages(results)
	if merged[0].Results[0].ID != "late" {
		t.Errorf("winner: got %q, want the later batch", merged[0].Results[0].ID)
	}
}

func TestMergePagesEmpty(t *testing.T) {
	merged, discrepancies := grading.MergePages(nil)
	if merged != nil || discrepancies != nil {
		t.Errorf("got %v, %v for empty input", merged, discrepancies)
	}
}

func TestResolveDuplicateQuestions(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("low", "3", 2, 5, 0.5, true),
			question("high", "3", 4, 5, 0.9, true),
			question("other", "4", 1, 2, 0.8, true),
		}},
	}

	resolved, discrepancies := grading.ResolveDuplicateQuestions(pages)
	if len(discrepancies) != 1 {
		t.Fatalf("discrepancies: got %d, want 1", len(discrepancies))
	}
	if discrepancies[0].PageIndex != 0 || discrepancies[0].QuestionID != "3" {
		t.Errorf("discrepancy: %+v", discrepancies[0])
	}
	if len(resolved[0].Results) != 2 {
		t.Fatalf("results: got %d, want 2", len(resolved[0].Results))
	}
	if resolved[0].Results[0].ID != "high" {
		t.Errorf("winner: got %q, want the higher confidence result", resolved[0].Results[0].ID)
	}
	if resolved[0].Results[1].ID != "other" {
		t.Error("unrelated question must survive untouched")
	}
}

// The same question id on different pages is another student's answer, not
// a conflict; resolution must leave every page's results intact so boundary
// detection still sees each student's full exam.
func TestResolveDuplicateQuestionsLeavesOtherPagesAlone(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("alice-q1", "1", 2, 5, 0.5, true),
		}},
		{PageIndex: 2, Results: []grading.QuestionResult{
			question("bob-q1", "1", 4, 5, 0.9, true),
		}},
	}

	resolved, discrepancies := grading.ResolveDuplicateQuestions(pages)
	if len(discrepancies) != 0 {
		t.Fatalf("discrepancies: got %d, want none", len(discrepancies))
	}
	if len(resolved[0].Results) != 1 || resolved[0].Results[0].ID != "alice-q1" {
		t.Error("first student's answer must survive")
	}
	if len(resolved[1].Results) != 1 || resolved[1].Results[0].ID != "bob-q1" {
		t.Error("second student's answer must survive")
	}
}

// Cross-page merged results are exempt from duplicate resolution; their
// page spans legitimately overlap with other results.
func TestResolveDuplicateQuestionsKeepsCrossPage(t *testing.T) {
	crossPage := question("merged", "5", 7, 7, 0.9, true)
	crossPage.IsCrossPage = true

	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{crossPage}},
		{PageIndex: 2, Results: []grading.QuestionResult{
			question("fresh", "5", 3, 7, 0.4, true),
		}},
	}

	resolved, _ := grading.ResolveDuplicateQuestions(pages)
	if len(resolved[0].Results) != 1 {
		t.Error("cross-page result must survive resolution")
	}
	if len(resolved[1].Results) != 1 {
		t.Error("independent occurrence must survive alongside a cross-page result")
	}
}

// Every student in a multi-student stack answers the same numbered
// questions. Resolution followed by segmentation must credit each student
// with their own copy of every question.
func TestResolveThenSegmentKeepsEveryStudent(t *testing.T) {
	pages := []grading.PageResult{
		identifiedPage(0, "alice", 0.9, question("a1", "1", 5, 5, 0.9, true)),
		{PageIndex: 1, Results: []grading.QuestionResult{question("a2", "2", 3, 4, 0.9, true)}},
		identifiedPage(2, "bob", 0.9, question("b1", "1", 4, 5, 0.9, true)),
		{PageIndex: 3, Results: []grading.QuestionResult{question("b2", "2", 2, 4, 0.9, true)}},
	}

	resolved, discrepancies := grading.ResolveDuplicateQuestions(pages)
	if len(discrepancies) != 0 {
		t.Fatalf("discrepancies: got %d, want none", len(discrepancies))
	}

	students := grading.NewBoundaryDetector(0.7).Segment(resolved)
	if len(students) != 2 {
		t.Fatalf("students: got %d, want 2", len(students))
	}
	for _, s := range students {
		if len(s.QuestionResults) != 2 {
			t.Errorf("student %s: got %d questions, want 2", s.StudentKey, len(s.QuestionResults))
		}
	}
	if students[0].TotalScore != 8 || students[1].TotalScore != 6 {
		t.Errorf("totals: got %g and %g, want 8 and 6",
			students[0].TotalScore, students[1].TotalScore)
	}
}

func TestValidateTotals(t *testing.T) {
	students := []grading.StudentResult{
		{
			StudentKey: "s-1",
			QuestionResults: []grading.QuestionResult{
				question("a", "1", 3, 5, 0.9, true),
				question("b", "2", 4, 4, 0.9, true),
			},
			TotalScore: 7,
		},
		{
			StudentKey: "s-2",
			QuestionResults: []grading.QuestionResult{
				question("c", "1", 3, 5, 0.9, true),
			},
			TotalScore: 5,
		},
	}

	validated := grading.ValidateTotals(students)

	if validated[0].NeedsConfirmation {
		t.Error("matching total should not be flagged")
	}
	if !validated[1].NeedsConfirmation {
		t.Error("mismatched total must be flagged for confirmation")
	}
	if validated[1].TotalScore != 3 {
		t.Errorf("corrected total: got %g, want 3", validated[1].TotalScore)
	}
}
