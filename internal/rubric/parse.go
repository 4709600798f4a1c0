package rubric

import (
	"encoding/json"
	"fmt"
	"math"
)

// sumTolerance absorbs floating-point drift when comparing scoring-point
// sums against question maxima.
const sumTolerance = 0.001

// Parse decodes and validates a rubric produced by the rubric-parsing
// collaborator. Validation failures are not retried; when the rubric holds a
// usable subset of questions, a NeedsReview fallback built from that subset
// is returned alongside the error so grading can proceed under review.
func Parse(data []byte) (*Rubric, error) {
	var r Rubric
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := r.Validate(); err != nil {
		if fallback := r.fallback(); fallback != nil {
			return fallback, err
		}
		return nil, err
	}

	return &r, nil
}

// Validate checks structural invariants: at least one question, unique
// question ids, positive maxima, and scoring points that sum to the
// question's declared max score.
func (r *Rubric) Validate() error {
	if len(r.Questions) == 0 {
		return ErrNoQuestions
	}

	seen := make(map[string]struct{}, len(r.Questions))
	for i := range r.Questions {
		q := &r.Questions[i]

		if q.ID == "" {
			return fmt.Errorf("%w: question %d has empty id", ErrInvalid, i)
		}
		if _, ok := seen[q.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, q.ID)
		}
		seen[q.ID] = struct{}{}

		if q.MaxScore <= 0 {
			return fmt.Errorf("%w: question %s max_score must be positive", ErrInvalid, q.ID)
		}

		if err := q.validatePoints(); err != nil {
			return err
		}
	}

	return nil
}

func (q *Question) validatePoints() error {
	if len(q.ScoringPoints) == 0 {
		return fmt.Errorf("%w: question %s has no scoring points", ErrInvalid, q.ID)
	}

	var sum float64
	for _, sp := range q.ScoringPoints {
		if sp.Value < 0 {
			return fmt.Errorf("%w: question %s has negative scoring point", ErrInvalid, q.ID)
		}
		sum += sp.Value
	}

	if math.Abs(sum-q.MaxScore) > sumTolerance {
		return fmt.Errorf(
			"%w: question %s points sum to %.3f, max is %.3f",
			ErrPointSumMismatch, q.ID, sum, q.MaxScore,
		)
	}

	return nil
}

// fallback returns a NeedsReview rubric built from the questions that
// individually validate, or nil when none do.
func (r *Rubric) fallback() *Rubric {
	usable := make([]Question, 0, len(r.Questions))
	seen := make(map[string]struct{}, len(r.Questions))

	for i := range r.Questions {
		q := r.Questions[i]
		if q.ID == "" || q.MaxScore <= 0 {
			continue
		}
		if _, ok := seen[q.ID]; ok {
			continue
		}
		if q.validatePoints() != nil {
			continue
		}
		seen[q.ID] = struct{}{}
		usable = append(usable, q)
	}

	if len(usable) == 0 {
		return nil
	}

	return &Rubric{
		Title:       r.Title,
		Questions:   usable,
		NeedsReview: true,
	}
}
