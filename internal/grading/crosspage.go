package grading

import (
	"sort"

	"github.com/google/uuid"

	"github.com/inkwell-ai/bluebook/internal/rubric"
)

// CrossPageMerger detects answers that continue across page boundaries and
// merges their partial results into one canonical question result. Merging
// requires an exact question id match, so sub-questions like 7a and 7b are
// never combined.
type CrossPageMerger struct {
	threshold float64
}

func NewCrossPageMerger(threshold float64) *CrossPageMerger {
	return &CrossPageMerger{threshold: threshold}
}

// Detect scans adjacent graded pages for the same question id and scores
// each candidate continuation. Failed and blank pages break adjacency.
func (m *CrossPageMerger) Detect(pages []PageResult) []CrossPageQuestion {
	var candidates []CrossPageQuestion

	ordered := gradedPages(pages)
	for i := 0; i+1 < len(ordered); i++ {
		left, right := ordered[i], ordered[i+1]
		if right.PageIndex != left.PageIndex+1 {
			continue
		}

		for _, lq := range left.Results {
			for _, rq := range right.Results {
				if lq.QuestionID != rq.QuestionID {
					continue
				}
				candidates = append(candidates, m.score(lq, rq, left, right))
			}
		}
	}

	return candidates
}

// score assigns the continuation confidence. The base for a shared id on
// adjacent pages is 0.8, boosted when the earlier page's final answer is
// visibly incomplete and that same question opens the next page, and
// discounted when either partial result was itself low confidence.
func (m *CrossPageMerger) score(lq, rq QuestionResult, left, right PageResult) CrossPageQuestion {
	confidence := 0.8
	reason := "same question on adjacent pages"

	if !lq.AnswerComplete && isLast(left, lq.QuestionID) && isFirst(right, rq.QuestionID) {
		confidence += 0.15
		reason = "incomplete answer continues at top of next page"
	}
	if lq.Confidence < 0.5 || rq.Confidence < 0.5 {
		confidence *= 0.8
	}
	if confidence > 1 {
		confidence = 1
	}

	return CrossPageQuestion{
		QuestionID:  lq.QuestionID,
		PageIndices: []int{left.PageIndex, right.PageIndex},
		Confidence:  confidence,
		MergeReason: reason,
	}
}

// Merge applies every detection at or above the threshold. Partial results
// for a merged question are replaced with a single result on the first
// contributing page; its score is the re-summed awarded points and its
// maximum is the rubric's canonical value, never the sum of partial maxima.
func (m *CrossPageMerger) Merge(pages []PageResult, r *rubric.Rubric, detected []CrossPageQuestion) ([]PageResult, []CrossPageQuestion) {
	groups := chainRuns(detected, m.threshold)
	if len(groups) == 0 {
		return pages, annotate(detected, m.threshold)
	}

	merged := make([]PageResult, len(pages))
	copy(merged, pages)

	for _, group := range groups {
		questionID := group.questionID
		indices := group.indices

		type partRef struct {
			page int
			qr   QuestionResult
		}
		var parts []partRef
		for _, idx := range indices {
			for pi := range merged {
				if merged[pi].PageIndex != idx {
					continue
				}
				kept := merged[pi].Results[:0:0]
				for _, qr := range merged[pi].Results {
					if qr.QuestionID == questionID {
						parts = append(parts, partRef{page: pi, qr: qr})
						continue
					}
					kept = append(kept, qr)
				}
				merged[pi].Results = kept
			}
		}

		// A lone partial has nothing to merge with; put it back where it
		// was found.
		if len(parts) < 2 {
			for _, part := range parts {
				merged[part.page].Results = append(merged[part.page].Results, part.qr)
			}
			continue
		}

		partials := make([]QuestionResult, len(parts))
		for i, part := range parts {
			partials[i] = part.qr
		}
		combined := combine(questionID, partials, indices, r)
		for pi := range merged {
			if merged[pi].PageIndex == indices[0] {
				merged[pi].Results = append(merged[pi].Results, combined)
			}
		}
	}

	return merged, annotate(detected, m.threshold)
}

// combine builds the canonical result from ordered partial results.
func combine(questionID string, parts []QuestionResult, indices []int, r *rubric.Rubric) QuestionResult {
	combined := QuestionResult{
		ID:             uuid.NewString(),
		QuestionID:     questionID,
		MaxScore:       r.MaxScore(questionID),
		Confidence:     1,
		PageIndices:    indices,
		IsCrossPage:    true,
		AnswerComplete: parts[len(parts)-1].AnswerComplete,
	}

	for _, p := range parts {
		combined.ScoringPointResults = append(combined.ScoringPointResults, p.ScoringPointResults...)
		combined.MergeSource = append(combined.MergeSource, p.ID)
		if p.Confidence < combined.Confidence {
			combined.Confidence = p.Confidence
		}
	}

	combined.RecomputeScore()
	if combined.MaxScore > 0 && combined.Score > combined.MaxScore {
		combined.Score = combined.MaxScore
	}
	return combined
}

type mergeRun struct {
	questionID string
	indices    []int
}

// chainRuns links detections that share a page into contiguous runs, so a
// three-page answer merges once while two separate occurrences of the same
// question far apart in the stack stay independent.
func chainRuns(detected []CrossPageQuestion, threshold float64) []mergeRun {
	byQuestion := make(map[string][][]int)
	var order []string
	for _, d := range detected {
		if d.Confidence < threshold {
			continue
		}
		if _, seen := byQuestion[d.QuestionID]; !seen {
			order = append(order, d.QuestionID)
		}
		byQuestion[d.QuestionID] = append(byQuestion[d.QuestionID], d.PageIndices)
	}

	var runs []mergeRun
	for _, questionID := range order {
		pairs := byQuestion[questionID]
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

		current := map[int]bool{}
		flush := func() {
			if len(current) >= 2 {
				runs = append(runs, mergeRun{questionID: questionID, indices: sortedIndices(current)})
			}
			current = map[int]bool{}
		}

		for _, pair := range pairs {
			if len(current) > 0 && !current[pair[0]] {
				flush()
			}
			for _, idx := range pair {
				current[idx] = true
			}
		}
		flush()
	}

	return runs
}

func annotate(detected []CrossPageQuestion, threshold float64) []CrossPageQuestion {
	out := make([]CrossPageQuestion, len(detected))
	for i, d := range detected {
		d.Merged = d.Confidence >= threshold
		out[i] = d
	}
	return out
}

func gradedPages(pages []PageResult) []PageResult {
	var out []PageResult
	for _, p := range pages {
		if p.Failed || p.Blank {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out
}

func isLast(p PageResult, questionID string) bool {
	if len(p.Results) == 0 {
		return false
	}
	return p.Results[len(p.Results)-1].QuestionID == questionID
}

func isFirst(p PageResult, questionID string) bool {
	if len(p.Results) == 0 {
		return false
	}
	return p.Results[0].QuestionID == questionID
}

func sortedIndices(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
