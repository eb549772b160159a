package ai

import (
	"errors"
	"fmt"
)

// TransientError marks a provider failure worth retrying: timeouts,
// connection errors, 429 and 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// TerminalError marks a provider failure that retrying cannot fix,
// typically a 4xx rejection of the request itself.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal provider error: %v", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps an error as non-retryable.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// IsTransient reports whether err is wrapped as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
