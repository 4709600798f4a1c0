// Package batches implements the grading batch domain. It provides
// types, data access, and business logic for batch submission, workflow
// orchestration, review actions, and result retrieval.
package batches

import (
	"time"

	"github.com/google/uuid"
)

// Batch is the summary row for a submitted grading batch. Full grading
// detail lives in the workflow snapshot; this row carries what listings
// and dashboards need.
type Batch struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	PausePoint     string     `json:"pause_point,omitempty"`
	TotalPages     int        `json:"total_pages"`
	ProcessedPages int        `json:"processed_pages"`
	StudentCount   int        `json:"student_count"`
	RubricTitle    string     `json:"rubric_title,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// PageUpload is one scanned page from a multipart submission.
type PageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitCommand carries everything needed to accept a new batch. Pages
// are kept in submission order; their position is the page index.
type SubmitCommand struct {
	Name       string
	RubricData []byte
	Pages      []PageUpload
}
