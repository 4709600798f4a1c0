// Package rubric implements the scoring-standard domain: per-question
// scoring points, maxima, alternative solutions, validation, and the deep
// copies handed to concurrent grading workers.
package rubric

import "fmt"

// ScoringPoint is an atomic, independently awardable unit of credit within a
// question.
type ScoringPoint struct {
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	Required    bool    `json:"required"`
}

// Alternative describes an accepted alternative solution for a question.
type Alternative struct {
	Description   string         `json:"description"`
	ScoringPoints []ScoringPoint `json:"scoring_points,omitempty"`
}

// Question is a single gradable question with its canonical maximum score.
type Question struct {
	ID             string         `json:"question_id"`
	MaxScore       float64        `json:"max_score"`
	StandardAnswer string         `json:"standard_answer,omitempty"`
	ScoringPoints  []ScoringPoint `json:"scoring_points"`
	Alternatives   []Alternative  `json:"alternatives,omitempty"`
}

// Rubric is the structured scoring standard for one exam: an ordered list of
// questions. NeedsReview marks a rubric built by the low-confidence fallback
// path; it must be confirmed by a reviewer before grading results are final.
type Rubric struct {
	Title       string     `json:"title,omitempty"`
	Questions   []Question `json:"questions"`
	NeedsReview bool       `json:"needs_review,omitempty"`
}

// Question returns the question with the given id.
// Returns ErrUnknownQuestion if no such question exists.
func (r *Rubric) Question(id string) (*Question, error) {
	for i := range r.Questions {
		if r.Questions[i].ID == id {
			return &r.Questions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
}

// MaxScore returns the canonical maximum score for the given question id,
// or 0 when the question is unknown. Cross-page merging relies on this as
// the single source of truth for a merged result's max score.
func (r *Rubric) MaxScore(id string) float64 {
	q, err := r.Question(id)
	if err != nil {
		return 0
	}
	return q.MaxScore
}

// TotalScore returns the sum of all question maxima.
func (r *Rubric) TotalScore() float64 {
	var total float64
	for i := range r.Questions {
		total += r.Questions[i].MaxScore
	}
	return total
}

// QuestionIDs returns the ordered question ids.
func (r *Rubric) QuestionIDs() []string {
	ids := make([]string, len(r.Questions))
	for i := range r.Questions {
		ids[i] = r.Questions[i].ID
	}
	return ids
}

// Clone returns a deep copy of the rubric. Each grading worker receives its
// own clone at fan-out time so no worker can observe another's mutations.
func (r *Rubric) Clone() *Rubric {
	clone := &Rubric{
		Title:       r.Title,
		Questions:   make([]Question, len(r.Questions)),
		NeedsReview: r.NeedsReview,
	}

	for i, q := range r.Questions {
		cq := Question{
			ID:             q.ID,
			MaxScore:       q.MaxScore,
			StandardAnswer: q.StandardAnswer,
		}

		if q.ScoringPoints != nil {
			cq.ScoringPoints = make([]ScoringPoint, len(q.ScoringPoints))
			copy(cq.ScoringPoints, q.ScoringPoints)
		}

		if q.Alternatives != nil {
			cq.Alternatives = make([]Alternative, len(q.Alternatives))
			for j, alt := range q.Alternatives {
				ca := Alternative{Description: alt.Description}
				if alt.ScoringPoints != nil {
					ca.ScoringPoints = make([]ScoringPoint, len(alt.ScoringPoints))
					copy(ca.ScoringPoints, alt.ScoringPoints)
				}
				cq.Alternatives[j] = ca
			}
		}

		clone.Questions[i] = cq
	}

	return clone
}
