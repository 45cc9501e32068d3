package normalizer

import (
	"errors"
	"fmt"
)

// ErrServiceTransient is returned once every attempt allowed by the retry
// policy failed with a transient error.
type ErrServiceTransient struct {
	error
}

func NewErrServiceTransient(attempts int, err error) *ErrServiceTransient {
	return &ErrServiceTransient{fmt.Errorf("normalization service unavailable after %d attempt(s): %w", attempts, err)}
}

func (e *ErrServiceTransient) Unwrap() error { return e.error }

type ErrServiceAuthFailure struct {
	error
}

func NewErrServiceAuthFailure(status int, body string) *ErrServiceAuthFailure {
	return &ErrServiceAuthFailure{fmt.Errorf("normalization service rejected credentials: status %d: %s", status, body)}
}

type ErrMalformedRequest struct {
	error
}

func NewErrMalformedRequest(status int, body string) *ErrMalformedRequest {
	return &ErrMalformedRequest{fmt.Errorf("normalization service rejected request: status %d: %s", status, body)}
}

type ErrProtocolMismatch struct {
	error
}

func NewErrProtocolMismatch(format string, args ...any) *ErrProtocolMismatch {
	return &ErrProtocolMismatch{fmt.Errorf("protocol mismatch: "+format, args...)}
}

func NewErrLengthMismatch(requested, returned int) *ErrProtocolMismatch {
	return NewErrProtocolMismatch("requested %d title(s), got %d result(s)", requested, returned)
}

// transientError marks a single failed attempt that may be retried.
type transientError struct {
	error
}

func (e *transientError) Unwrap() error { return e.error }

func newTransientError(format string, args ...any) *transientError {
	return &transientError{fmt.Errorf(format, args...)}
}

// Retryable marks err as a failed attempt that RetryPolicy.Do tries again.
func Retryable(err error) error {
	return &transientError{err}
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// IsFatal reports errors that will not go away by retrying: bad credentials,
// rejected requests and protocol violations.
func IsFatal(err error) bool {
	var (
		auth      *ErrServiceAuthFailure
		malformed *ErrMalformedRequest
		protocol  *ErrProtocolMismatch
	)
	return errors.As(err, &auth) || errors.As(err, &malformed) || errors.As(err, &protocol)
}

func IsTransient(err error) bool {
	var t *ErrServiceTransient
	return errors.As(err, &t)
}

func IsProtocolMismatch(err error) bool {
	var p *ErrProtocolMismatch
	return errors.As(err, &p)
}

func IsAuthFailure(err error) bool {
	var a *ErrServiceAuthFailure
	return errors.As(err, &a)
}
