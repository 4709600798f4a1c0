package rubric

import "errors"

// Sentinel errors for rubric validation and lookup.
var (
	ErrInvalid          = errors.New("invalid rubric")
	ErrNoQuestions      = errors.New("rubric contains no questions")
	ErrUnknownQuestion  = errors.New("unknown question")
	ErrDuplicateID      = errors.New("duplicate question id")
	ErrPointSumMismatch = errors.New("scoring points do not sum to question max score")
)
