package job

import "errors"

var (
	// ErrJobNotFound is returned when no job matches an id or correlation id
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyTerminal is returned when a completion targets a job that is
	// already COMPLETED or FAILED
	ErrAlreadyTerminal = errors.New("job already in terminal state")

	// ErrInvalidTransition is returned for an edge the state machine forbids
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMalformedMessage is returned when a queue message cannot be decoded
	ErrMalformedMessage = errors.New("malformed message")

	// ErrValidation marks caller input rejected before persistence
	ErrValidation = errors.New("validation error")

	// ErrPersistence is returned when the job store is unavailable at submit time
	ErrPersistence = errors.New("job store unavailable")

	// ErrPublish is returned when the broker does not confirm a publish
	ErrPublish = errors.New("failed to publish message")

	// ErrOverloaded is returned when the request queue is at capacity
	ErrOverloaded = errors.New("request queue is at capacity")
)

// RetryableError wraps transient errors that should trigger a redelivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
