package batches

import (
	"errors"
	"net/http"

	"github.com/inkwell-ai/bluebook/internal/workflow"
)

// Domain errors for batch operations.
var (
	ErrNotFound       = errors.New("batch not found")
	ErrDuplicate      = errors.New("batch already exists")
	ErrInvalidRequest = errors.New("invalid batch request")
	ErrFileTooLarge   = errors.New("file exceeds maximum upload size")
	ErrNotReady       = errors.New("batch results are not ready")
)

// MapHTTPStatus maps batch domain and workflow errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, workflow.ErrStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, workflow.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady),
		errors.Is(err, workflow.ErrNotPaused),
		errors.Is(err, workflow.ErrTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
