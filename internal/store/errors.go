package store

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
)

// ErrStorageUnavailable wraps any failure to reach or use the backing store.
// The routine treats it as retryable.
type ErrStorageUnavailable struct {
	error
}

func NewErrStorageUnavailable(op string, err error) *ErrStorageUnavailable {
	return &ErrStorageUnavailable{fmt.Errorf("storage unavailable: %s: %w", op, err)}
}

func (e *ErrStorageUnavailable) Unwrap() error {
	return e.error
}

func IsStorageUnavailable(err error) bool {
	var e *ErrStorageUnavailable
	return errors.As(err, &e)
}
