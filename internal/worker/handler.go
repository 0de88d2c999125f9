package worker

import (
	"context"
	"errors"
)

// Job is a unit of periodic work.
type Job interface {
	// Type returns the job identifier used in logs and metrics.
	Type() string

	// Run executes one pass. Return NewPermanentError to unschedule the job.
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Type returns the job name.
func (j JobFunc) Type() string { return j.Name }

// Run calls Fn.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// PermanentError wraps an error to indicate the job should not run again.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
