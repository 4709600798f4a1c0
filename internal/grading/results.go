// Package grading implements the grading data model and the engines that
// operate on it: the batch worker, the parallel-batch result merger, the
// cross-page question merger, and the student boundary aggregator.
package grading

import (
	"time"

	"github.com/google/uuid"
)

// PointResult records the award decision for a single scoring point.
type PointResult struct {
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	Awarded     float64 `json:"awarded"`
	Comment     string  `json:"comment,omitempty"`
}

// QuestionResult is the graded outcome for one question as evidenced on one
// or more pages. Results are never mutated in place; merges produce new
// results referencing their sources through MergeSource.
type QuestionResult struct {
	ID                  string        `json:"id"`
	QuestionID          string        `json:"question_id"`
	Score               float64       `json:"score"`
	MaxScore            float64       `json:"max_score"`
	Confidence          float64       `json:"confidence"`
	ScoringPointResults []PointResult `json:"scoring_point_results"`
	PageIndices         []int         `json:"page_indices"`
	IsCrossPage         bool          `json:"is_cross_page"`
	MergeSource         []string      `json:"merge_source,omitempty"`
	AnswerComplete      bool          `json:"answer_complete"`
}

// RecomputeScore sets Score to the sum of awarded points and returns it.
func (q *QuestionResult) RecomputeScore() float64 {
	var sum float64
	for _, p := range q.ScoringPointResults {
		sum += p.Awarded
	}
	q.Score = sum
	return sum
}

// StudentInfo is an identity signal detected on a page.
type StudentInfo struct {
	Name       string  `json:"name,omitempty"`
	StudentID  string  `json:"student_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Key returns the best available identity key for the detection.
func (s *StudentInfo) Key() string {
	if s.StudentID != "" {
		return s.StudentID
	}
	return s.Name
}

// PageResult holds everything a worker produced for a single page. It is
// immutable once handed to the merger; retries produce a new entry with a
// higher Attempt, and the merger keeps only the latest.
type PageResult struct {
	PageIndex   int              `json:"page_index"`
	Results     []QuestionResult `json:"results"`
	StudentInfo *StudentInfo     `json:"student_info,omitempty"`
	Blank       bool             `json:"blank_page"`
	Failed      bool             `json:"failed"`
	BatchIndex  int              `json:"batch_index"`
	Attempt     int              `json:"attempt"`
}

// Confidence returns the page's overall confidence: the minimum across its
// question results, or zero for failed pages. Blank pages with no results
// report full confidence.
func (p *PageResult) Confidence() float64 {
	if p.Failed {
		return 0
	}
	if len(p.Results) == 0 {
		if p.Blank {
			return 1
		}
		return 0
	}

	min := p.Results[0].Confidence
	for _, r := range p.Results[1:] {
		if r.Confidence < min {
			min = r.Confidence
		}
	}
	return min
}

// CrossPageQuestion records a detected answer span across page boundaries.
// Candidates below the merge threshold are recorded with Merged=false and
// surfaced to the reviewer instead of being auto-merged.
type CrossPageQuestion struct {
	QuestionID  string  `json:"question_id"`
	PageIndices []int   `json:"page_indices"`
	Confidence  float64 `json:"confidence"`
	MergeReason string  `json:"merge_reason"`
	Merged      bool    `json:"merged"`
}

// Discrepancy flags a scoring conflict found while merging parallel batch
// outputs; it is surfaced for human review rather than silently resolved.
type Discrepancy struct {
	PageIndex  int    `json:"page_index"`
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
}

// StudentResult aggregates one student's question results over a contiguous
// page range. After human confirmation a reviewed copy is created via
// Confirm; the original is never rewritten.
type StudentResult struct {
	StudentKey        string           `json:"student_key"`
	StartPage         int              `json:"start_page"`
	EndPage           int              `json:"end_page"`
	QuestionResults   []QuestionResult `json:"question_results"`
	TotalScore        float64          `json:"total_score"`
	Confidence        float64          `json:"confidence"`
	NeedsConfirmation bool             `json:"needs_confirmation"`
	Reviewed          bool             `json:"reviewed"`
	ReviewedAt        *time.Time       `json:"reviewed_at,omitempty"`
}

// Confirm returns a reviewed copy of the result, preserving the original
// for the audit trail.
func (s StudentResult) Confirm(at time.Time) StudentResult {
	confirmed := s
	confirmed.QuestionResults = make([]QuestionResult, len(s.QuestionResults))
	copy(confirmed.QuestionResults, s.QuestionResults)
	confirmed.NeedsConfirmation = false
	confirmed.Reviewed = true
	confirmed.ReviewedAt = &at
	return confirmed
}

// ErrorContext carries enough detail to drive a retry or manual fix.
type ErrorContext struct {
	BatchID    uuid.UUID `json:"batch_id"`
	PageIndex  int       `json:"page_index"`
	QuestionID string    `json:"question_id,omitempty"`
	BatchIndex int       `json:"batch_index"`
}

// ErrorRecord is a typed, user-visible failure produced anywhere in the
// pipeline.
type ErrorRecord struct {
	Type       ErrorType    `json:"error_type"`
	Message    string       `json:"message"`
	Context    ErrorContext `json:"context"`
	RetryCount int          `json:"retry_count"`
	Resolved   bool         `json:"resolved"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// BatchResult is the top-level container for a grading run. It is created at
// submission, mutated incrementally as stages complete, and frozen at export.
type BatchResult struct {
	BatchID            uuid.UUID           `json:"batch_id"`
	StudentResults     []StudentResult     `json:"student_results"`
	TotalPages         int                 `json:"total_pages"`
	ProcessedPages     int                 `json:"processed_pages"`
	CrossPageQuestions []CrossPageQuestion `json:"cross_page_questions"`
	Discrepancies      []Discrepancy       `json:"discrepancies,omitempty"`
	Errors             []ErrorRecord       `json:"errors"`
	SubmittedAt        time.Time           `json:"submitted_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}
