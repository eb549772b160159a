package model

import "errors"

var (
	// ErrValidation marks a malformed or contradictory request. It is never
	// persisted and maps to HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrQuotaExhausted is returned when a user's quota window is spent.
	// No job record is created. Maps to HTTP 402.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrNotFound covers both an unknown job id and an ownership mismatch,
	// so the existence of other users' jobs is not leaked. Maps to HTTP 404.
	ErrNotFound = errors.New("job not found")

	// ErrNotReady is returned by the result read on a non-terminal job.
	// Distinct from ErrNotFound.
	ErrNotReady = errors.New("result not ready")

	// ErrStateConflict is returned by a compare-and-set transition whose
	// precondition state no longer holds. Workers losing a claim race or
	// observing a concurrent cancellation see this.
	ErrStateConflict = errors.New("job state conflict")

	// ErrAlreadyCompleted is returned when cancelling a job that already
	// finished successfully.
	ErrAlreadyCompleted = errors.New("job already completed")
)
