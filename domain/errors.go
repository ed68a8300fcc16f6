package domain

import "errors"

var (
	ErrInvalidService   = errors.New("invalid service")
	ErrValidationFailed = errors.New("validation failed")
	ErrNotFound         = errors.New("job not found")
	ErrAlreadyExists    = errors.New("job already exists")

	// ErrExecutionFailed wraps a failed service step. The job keeps its
	// remaining retries and can be polled again.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrBudgetExhausted marks a job that failed with no retries left.
	ErrBudgetExhausted = errors.New("retry budget exhausted")
)
