package grading

import (
	"math"
	"sort"
)

const totalTolerance = 0.01

// MergePages flattens per-batch page results into a single page sequence.
// When the same page appears more than once, the latest attempt wins; ties
// on attempt fall back to batch order. Question-level conflicts inside a
// surviving page never occur here (a page grades as a unit), but duplicate
// question ids across retained copies of a page are reported as
// discrepancies so reviewers can see what was displaced.
func MergePages(results []PageResult) ([]PageResult, []Discrepancy) {
	if len(results) == 0 {
		return nil, nil
	}

	byPage := make(map[int][]PageResult)
	for _, r := range results {
		byPage[r.PageIndex] = append(byPage[r.PageIndex], r)
	}

	var merged []PageResult
	var discrepancies []Discrepancy

	for index, candidates := range byPage {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Attempt != candidates[j].Attempt {
				return candidates[i].Attempt > candidates[j].Attempt
			}
			return candidates[i].BatchIndex > candidates[j].BatchIndex
		})

		winner := candidates[0]
		for _, displaced := range candidates[1:] {
			for _, qr := range displaced.Results {
				discrepancies = append(discrepancies, Discrepancy{
					PageIndex:  index,
					QuestionID: qr.QuestionID,
					Reason:     "superseded by later grading attempt",
				})
			}
		}
		merged = append(merged, winner)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].PageIndex < merged[j].PageIndex
	})

	return merged, discrepancies
}

// ResolveDuplicateQuestions handles the same question id graded more than
// once on a single page; the higher confidence result is kept and the loser
// is recorded. Resolution never reaches across pages: the same id on
// another page is either a continuation, which the cross-page merger owns,
// or another student's answer, which boundary detection separates.
func ResolveDuplicateQuestions(pages []PageResult) ([]PageResult, []Discrepancy) {
	var discrepancies []Discrepancy
	resolved := make([]PageResult, 0, len(pages))

	for _, p := range pages {
		if p.Failed || p.Blank {
			resolved = append(resolved, p)
			continue
		}

		seen := make(map[string]int)
		kept := make([]QuestionResult, 0, len(p.Results))
		for _, qr := range p.Results {
			if qr.IsCrossPage {
				kept = append(kept, qr)
				continue
			}
			at, dup := seen[qr.QuestionID]
			if !dup {
				seen[qr.QuestionID] = len(kept)
				kept = append(kept, qr)
				continue
			}
			discrepancies = append(discrepancies, Discrepancy{
				PageIndex:  p.PageIndex,
				QuestionID: qr.QuestionID,
				Reason:     "duplicate question resolved to higher confidence result",
			})
			if qr.Confidence > kept[at].Confidence {
				kept[at] = qr
			}
		}
		p.Results = kept
		resolved = append(resolved, p)
	}

	return resolved, discrepancies
}

// ValidateTotals checks each student's total against the sum of their
// question scores. A mismatch is corrected to the sum and flagged for
// human confirmation rather than accepted silently.
func ValidateTotals(students []StudentResult) []StudentResult {
	out := make([]StudentResult, len(students))
	for i, s := range students {
		var sum float64
		for _, qr := range s.QuestionResults {
			sum += qr.Score
		}
		if math.Abs(sum-s.TotalScore) > totalTolerance {
			s.TotalScore = sum
			s.NeedsConfirmation = true
		}
		out[i] = s
	}
	return out
}
