package tasks

import (
	"context"
	"errors"
	"fmt"
)

// Two failure classes cross the task boundary. Retryable errors re-enter the
// backoff loop up to the task type's attempt budget; fatal errors mark the
// node failed immediately and cascade skipped to strict dependents.
// Unclassified errors are treated as retryable: transient faults are the
// common case and fatality must be an explicit call.

type retryableError struct{ err error }

func (e *retryableError) Error() string { return "retryable: " + e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type fatalError struct{ err error }

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Retryable marks an error as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &retryableError{err: err}
}

// Retryablef wraps a formatted transient error.
func Retryablef(format string, args ...any) error {
	return &retryableError{err: fmt.Errorf(format, args...)}
}

// Fatal marks an error as non-recoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{err: err}
}

// Fatalf wraps a formatted non-recoverable error.
func Fatalf(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether the error was explicitly marked fatal.
func IsFatal(err error) bool {
	var fe *fatalError

	return errors.As(err, &fe)
}

// IsRetryable reports whether the error should re-enter the retry loop.
// Attempt timeouts count as retryable; anything not marked fatal does.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return !IsFatal(err)
}
