package batches

import (
	"net/url"

	"github.com/inkwell-ai/bluebook/pkg/query"
	"github.com/inkwell-ai/bluebook/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "batches", "b").
	Project("id", "ID").
	Project("name", "Name").
	Project("status", "Status").
	Project("pause_point", "PausePoint").
	Project("total_pages", "TotalPages").
	Project("processed_pages", "ProcessedPages").
	Project("student_count", "StudentCount").
	Project("rubric_title", "RubricTitle").
	Project("submitted_at", "SubmittedAt").
	Project("updated_at", "UpdatedAt").
	Project("completed_at", "CompletedAt")

var defaultSort = query.SortField{
	Field:      "SubmittedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for batch queries.
// Nil fields are ignored. Status and PausePoint use exact matching;
// Name and RubricTitle use case-insensitive contains matching.
type Filters struct {
	Status      *string `json:"status,omitempty"`
	PausePoint  *string `json:"pause_point,omitempty"`
	Name        *string `json:"name,omitempty"`
	RubricTitle *string `json:"rubric_title,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("PausePoint", f.PausePoint).
		WhereContains("Name", f.Name).
		WhereContains("RubricTitle", f.RubricTitle)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if p := values.Get("pause_point"); p != "" {
		f.PausePoint = &p
	}

	if n := values.Get("name"); n != "" {
		f.Name = &n
	}

	if rt := values.Get("rubric_title"); rt != "" {
		f.RubricTitle = &rt
	}

	return f
}

func scanBatch(s repository.Scanner) (Batch, error) {
	var b Batch
	err := s.Scan(
		&b.ID,
		&b.Name,
		&b.Status,
		&b.PausePoint,
		&b.TotalPages,
		&b.ProcessedPages,
		&b.StudentCount,
		&b.RubricTitle,
		&b.SubmittedAt,
		&b.UpdatedAt,
		&b.CompletedAt,
	)
	return b, err
}
