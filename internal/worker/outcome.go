package worker

import (
	"errors"
	"fmt"
)

// Failure classification drives the retry policy: transient failures are
// requeued against the attempt budget, fatal ones go straight to the DLQ,
// and lock contention is redelivered without charging the budget.

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return fmt.Sprintf("fatal: %v", e.err) }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an error as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether the error (or any wrapped error) was marked fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
