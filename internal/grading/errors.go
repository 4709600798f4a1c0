package grading

import "errors"

// ErrorType classifies failures for the user-visible error taxonomy.
type ErrorType string

// Error taxonomy. Transient and rate-limited failures are retried with
// backoff; validation failures are surfaced immediately; ambiguity is not an
// error at all and travels as needs-confirmation state instead.
const (
	ErrorTypeTransient   ErrorType = "transient"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypePersistence ErrorType = "persistence"
)

// Sentinel errors for grading operations.
var (
	ErrEmptyBatch    = errors.New("batch contains no pages")
	ErrPageFailed    = errors.New("page grading failed")
	ErrServiceFailed = errors.New("grading service call failed")
)
