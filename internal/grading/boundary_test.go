package grading_test

import (
	"strings"
	"testing"

	"github.com/inkwell-ai/bluebook/internal/grading"
)

func identifiedPage(index int, studentID string, confidence float64, results ...grading.QuestionResult) grading.PageResult {
	return grading.PageResult{
		PageIndex:   index,
		Results:     results,
		StudentInfo: &grading.StudentInfo{StudentID: studentID, Confidence: confidence},
	}
}

func TestSegmentByIdentity(t *testing.T) {
	pages := []grading.PageResult{
		identifiedPage(0, "alice", 0.9, question("a1", "1", 5, 5, 0.9, true)),
		{PageIndex: 1, Results: []grading.QuestionResult{question("a2", "2", 3, 4, 0.9, true)}},
		identifiedPage(2, "bob", 0.9, question("b1", "1", 4, 5, 0.9, true)),
		{PageIndex: 3, Results: []grading.QuestionResult{question("b2", "2", 2, 4, 0.9, true)}},
	}

	students := grading.NewBoundaryDetector(0.7).Segment(pages)
	if len(students) != 2 {
		t.Fatalf("students: got %d, want 2", len(students))
	}

	alice, bob := students[0], students[1]
	if alice.StudentKey != "alice" || bob.StudentKey != "bob" {
		t.Errorf("keys: got %q, %q", alice.StudentKey, bob.StudentKey)
	}
	if alice.StartPage != 0 || alice.EndPage != 1 {
		t.Errorf("alice span: %d..%d", alice.StartPage, alice.EndPage)
	}
	if bob.StartPage != 2 || bob.EndPage != 3 {
		t.Errorf("bob span: %d..%d", bob.StartPage, bob.EndPage)
	}
	if alice.TotalScore != 8 {
		t.Errorf("alice total: got %g, want 8", alice.TotalScore)
	}
	if bob.TotalScore != 6 {
		t.Errorf("bob total: got %g, want 6", bob.TotalScore)
	}
	if alice.NeedsConfirmation || bob.NeedsConfirmation {
		t.Error("confident segmentation should not require confirmation")
	}
}

// Identity below the detection threshold does not start a new student.
func TestSegmentIgnoresWeakIdentity(t *testing.T) {
	pages := []grading.PageResult{
		identifiedPage(0, "alice", 0.9, question("a1", "1", 5, 5, 0.9, true)),
		identifiedPage(1, "smudge", 0.3, question("a2", "2", 3, 4, 0.9, true)),
	}

	students := grading.NewBoundaryDetector(0.7).Segment(pages)
	if len(students) != 1 {
		t.Fatalf("students: got %d, want 1", len(students))
	}
	if students[0].StudentKey != "alice" {
		t.Errorf("key: got %q, want alice", students[0].StudentKey)
	}
}

// Without legible identity, a question numbering reset marks the boundary.
func TestSegmentByNumberingReset(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{
			question("q8", "8", 2, 3, 0.9, true),
			question("q9", "9", 3, 3, 0.9, true),
		}},
		{PageIndex: 1, Results: []grading.QuestionResult{
			question("q1", "1", 4, 5, 0.9, true),
		}},
	}

	students := grading.NewBoundaryDetector(0.7).Segment(pages)
	if len(students) != 2 {
		t.Fatalf("students: got %d, want 2", len(students))
	}
	for _, s := range students {
		if !strings.HasPrefix(s.StudentKey, "unidentified-") {
			t.Errorf("key: got %q, want an unidentified placeholder", s.StudentKey)
		}
		if !s.NeedsConfirmation {
			t.Error("unidentified student must require confirmation")
		}
	}
}

// Continuing upward numbering is not a reset.
func TestSegmentNoResetOnAscendingNumbers(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{question("q1", "1", 2, 3, 0.9, true)}},
		{PageIndex: 1, Results: []grading.QuestionResult{question("q2", "2", 3, 3, 0.9, true)}},
		{PageIndex: 2, Results: []grading.QuestionResult{question("q3", "3", 3, 3, 0.9, true)}},
	}

	students := grading.NewBoundaryDetector(0.7).Segment(pages)
	if len(students) != 1 {
		t.Fatalf("students: got %d, want 1", len(students))
	}
}

// When neither identity nor numbering yields a boundary, the whole stack
// becomes one group flagged for a human to split.
func TestSegmentUnconfidentSingleGroup(t *testing.T) {
	pages := []grading.PageResult{
		{PageIndex: 0, Results: []grading.QuestionResult{question("a", "5", 2, 3, 0.9, true)}},
		{PageIndex: 1, Results: []grading.QuestionResult{question("b", "5", 1, 3, 0.9, true)}},
		{PageIndex: 2, Results: []grading.QuestionResult{question("c", "5", 3, 3, 0.9, true)}},
	}

	students := grading.NewBoundaryDetector(0.7).Segment(pages)
	if len(students) != 1 {
		t.Fatalf("students: got %d, want 1", len(students))
	}
	if !students[0].NeedsConfirmation {
		t.Error("ambiguous stack must be flagged for confirmation")
	}
	if students[0].StartPage != 0 || students[0].EndPage != 2 {
		t.Errorf("span: %d..%d, want 0..2", students[0].StartPage, students[0].EndPage)
	}
}

func TestSegmentFailedAndBlankPages(t *testing.T) {
	pages := []grading.PageResult{
		identifiedPage(0, "alice", 0.9, question("a1", "1", 5, 5, 0.8, true)),
		{PageIndex: 1, Failed: true},
		{PageIndex: 2, Blank: true},
	}

	students := grading.NewBoundaryDetector(0.7).Segment(pages)
	if len(students) != 1 {
		t.Fatalf("students: got %d, want 1", len(students))
	}
	s := students[0]
	if !s.NeedsConfirmation {
		t.Error("a failed page inside a segment must force confirmation")
	}
	if s.TotalScore != 5 {
		t.Errorf("total: got %g, want 5", s.TotalScore)
	}
	if s.Confidence != 0.8 {
		t.Errorf("confidence: got %g, want the graded page's 0.8", s.Confidence)
	}
}

func TestSegmentEmpty(t *testing.T) {
	if got := grading.NewBoundaryDetector(0.7).Segment(nil); got != nil {
		t.Errorf("got %v for empty input", got)
	}
}

func TestConfidenceSemantics(t *testing.T) {
	tests := []struct {
		name string
		page grading.PageResult
		want float64
	}{
		{"failed", grading.PageResult{Failed: true}, 0},
		{"blank", grading.PageResult{Blank: true}, 1},
		{"no results", grading.PageResult{}, 0},
		{"min of results", grading.PageResult{Results: []grading.QuestionResult{
			question("a", "1", 3, 5, 0.9, true),
			question("b", "2", 2, 5, 0.6, true),
		}}, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.Confidence(); got != tt.want {
				t.Errorf("got %g, want %g", got, tt.want)
			}
		})
	}
}
