package grading

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BoundaryDetector segments a graded page sequence into per-student result
// groups. Detected student identity is the primary signal; a question
// numbering reset is the fallback when no identity was legible.
type BoundaryDetector struct {
	threshold float64
}

func NewBoundaryDetector(threshold float64) *BoundaryDetector {
	return &BoundaryDetector{threshold: threshold}
}

type segment struct {
	key       string
	start     int
	end       int
	pages     []PageResult
	confident bool
}

// Segment groups pages into students. When no boundary can be established
// with confidence the whole sequence becomes a single group flagged for
// human confirmation; pages are never split on a guess.
func (d *BoundaryDetector) Segment(pages []PageResult) []StudentResult {
	ordered := make([]PageResult, len(pages))
	copy(ordered, pages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PageIndex < ordered[j].PageIndex })

	if len(ordered) == 0 {
		return nil
	}

	segments := d.split(ordered)
	results := make([]StudentResult, 0, len(segments))
	for _, seg := range segments {
		results = append(results, buildStudent(seg))
	}
	return results
}

func (d *BoundaryDetector) split(ordered []PageResult) []segment {
	var segments []segment
	current := segment{start: ordered[0].PageIndex, confident: true}
	anyBoundary := false

	for i, page := range ordered {
		if i > 0 && d.isBoundary(ordered, i) {
			anyBoundary = true
			current.end = ordered[i-1].PageIndex
			segments = append(segments, current)
			current = segment{start: page.PageIndex, confident: true}
		}

		if current.key == "" {
			if info := page.StudentInfo; info != nil && info.Confidence >= d.threshold {
				current.key = info.Key()
			}
		}
		current.pages = append(current.pages, page)
		current.end = page.PageIndex
	}
	segments = append(segments, current)

	// A multi-page stack with no detectable boundary at all is a single
	// low-confidence group for a human to split.
	if !anyBoundary && len(ordered) > 1 && segments[0].key == "" {
		segments[0].confident = false
	}

	for i := range segments {
		if segments[i].key == "" {
			segments[i].key = fmt.Sprintf("unidentified-%d", segments[i].start)
			segments[i].confident = false
		}
	}
	return segments
}

// isBoundary reports whether ordered[i] starts a new student.
func (d *BoundaryDetector) isBoundary(ordered []PageResult, i int) bool {
	page := ordered[i]

	if info := page.StudentInfo; info != nil && info.Confidence >= d.threshold {
		prev := lastIdentity(ordered[:i], d.threshold)
		return prev == "" || prev != info.Key()
	}

	return numberingReset(ordered[i-1], page)
}

func lastIdentity(pages []PageResult, threshold float64) string {
	for i := len(pages) - 1; i >= 0; i-- {
		if info := pages[i].StudentInfo; info != nil && info.Confidence >= threshold {
			return info.Key()
		}
	}
	return ""
}

// numberingReset detects a new exam starting because question numbers drop
// back down, e.g. a page of questions 8..10 followed by a page starting
// at question 1.
func numberingReset(prev, next PageResult) bool {
	prevHigh, ok1 := highestQuestionNumber(prev)
	nextLow, ok2 := lowestQuestionNumber(next)
	if !ok1 || !ok2 {
		return false
	}
	return nextLow < prevHigh && nextLow <= 1
}

func highestQuestionNumber(p PageResult) (int, bool) {
	found := false
	high := 0
	for _, qr := range p.Results {
		if n, ok := questionNumber(qr.QuestionID); ok {
			found = true
			if n > high {
				high = n
			}
		}
	}
	return high, found
}

func lowestQuestionNumber(p PageResult) (int, bool) {
	found := false
	low := 0
	for _, qr := range p.Results {
		if n, ok := questionNumber(qr.QuestionID); ok {
			if !found || n < low {
				low = n
			}
			found = true
		}
	}
	return low, found
}

// questionNumber extracts the leading numeric portion of a question id, so
// "7a" and "7" both map to 7.
func questionNumber(id string) (int, bool) {
	trimmed := strings.TrimSpace(id)
	end := 0
	for end < len(trimmed) && trimmed[end] >= '0' && trimmed[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func buildStudent(seg segment) StudentResult {
	student := StudentResult{
		StudentKey:        seg.key,
		StartPage:         seg.start,
		EndPage:           seg.end,
		Confidence:        1,
		NeedsConfirmation: !seg.confident,
	}

	anyGraded := false
	for _, page := range seg.pages {
		if page.Failed {
			student.NeedsConfirmation = true
			continue
		}
		if page.Blank {
			continue
		}
		anyGraded = true
		if conf := page.Confidence(); conf < student.Confidence {
			student.Confidence = conf
		}
		for _, qr := range page.Results {
			student.QuestionResults = append(student.QuestionResults, qr)
			student.TotalScore += qr.Score
		}
	}

	if !anyGraded {
		student.Confidence = 0
		student.NeedsConfirmation = true
	}
	return student
}
