package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/go-agents-orchestration/pkg/state"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
)

// State bag keys used by workflow nodes.
const (
	KeyBatchState = "batch_state"
)

// PageRef points at one stored page image.
type PageRef struct {
	Index      int    `json:"index"`
	StorageKey string `json:"storage_key"`
	Blank      bool   `json:"blank"`
}

// BatchState is the durable snapshot of a batch mid-workflow. It is
// persisted as JSON after every stage so a restarted server resumes from
// the last completed stage instead of regrading from scratch.
type BatchState struct {
	BatchID    uuid.UUID  `json:"batch_id"`
	Status     Status     `json:"status"`
	PausePoint PausePoint `json:"pause_point,omitempty"`

	RubricRaw []byte         `json:"rubric_raw,omitempty"`
	Rubric    *rubric.Rubric `json:"rubric,omitempty"`
	Pages     []PageRef      `json:"pages,omitempty"`

	PageResults   []grading.PageResult        `json:"page_results,omitempty"`
	CrossPage     []grading.CrossPageQuestion `json:"cross_page,omitempty"`
	Students      []grading.StudentResult     `json:"students,omitempty"`
	Discrepancies []grading.Discrepancy       `json:"discrepancies,omitempty"`
	Errors        []grading.ErrorRecord       `json:"errors,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProcessedPages counts pages with a grading outcome, blanks included.
func (b *BatchState) ProcessedPages() int {
	count := 0
	for _, p := range b.PageResults {
		if !p.Failed {
			count++
		}
	}
	return count
}

// Result assembles the reviewer-facing batch result from the snapshot.
func (b *BatchState) Result() *grading.BatchResult {
	return &grading.BatchResult{
		BatchID:            b.BatchID,
		StudentResults:     b.Students,
		TotalPages:         len(b.Pages),
		ProcessedPages:     b.ProcessedPages(),
		CrossPageQuestions: b.CrossPage,
		Discrepancies:      b.Discrepancies,
		Errors:             b.Errors,
		SubmittedAt:        b.SubmittedAt,
		UpdatedAt:          b.UpdatedAt,
		CompletedAt:        b.CompletedAt,
	}
}

// Marshal serializes the snapshot for persistence.
func (b *BatchState) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBatchState restores a snapshot from its persisted form.
func UnmarshalBatchState(data []byte) (*BatchState, error) {
	var b BatchState
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch state: %w", err)
	}
	return &b, nil
}

func extractBatchState(s state.State) (*BatchState, error) {
	val, ok := s.Get(KeyBatchState)
	if !ok {
		return nil, fmt.Errorf("missing %s in state", KeyBatchState)
	}
	bs, ok := val.(*BatchState)
	if !ok {
		return nil, fmt.Errorf("%s is not *BatchState", KeyBatchState)
	}
	return bs, nil
}
