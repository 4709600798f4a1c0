package workflow

import "errors"

var (
	ErrNoPages           = errors.New("batch has no pages")
	ErrNoRubric          = errors.New("batch has no scoring standard")
	ErrNotPaused         = errors.New("batch is not waiting for review")
	ErrInvalidAction     = errors.New("invalid review action")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("batch is in a terminal state")
)
