package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the job store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrTerminalState is returned when a terminal transition targets a job that already left pending
	ErrTerminalState = errors.New("job already in terminal state")

	// ErrInvalidMessage is returned when a queue message does not carry a usable job id
	ErrInvalidMessage = errors.New("invalid queue message")

	// ErrMaxReceivesExceeded is returned when a message was redelivered more often than allowed
	ErrMaxReceivesExceeded = errors.New("max receive count exceeded")
)

// RetryableError wraps infrastructure failures that are left to queue redelivery
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
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
