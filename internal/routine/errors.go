package routine

import (
	"errors"
	"fmt"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/internal/store/model"
)

// ErrShutdown is returned by RunCycle when the context was cancelled before
// the cycle reached its first side effect.
var ErrShutdown = errors.New("shutdown requested")

// ErrMalformedRecord describes a record skipped because its title cannot be sent.
type ErrMalformedRecord struct {
	error
	Record model.RoleRecord
}

func NewErrMalformedRecord(rec model.RoleRecord, reason string) *ErrMalformedRecord {
	return &ErrMalformedRecord{
		error:  fmt.Errorf("malformed record %d (%s): %s", rec.ID, rec.Dataset, reason),
		Record: rec,
	}
}

const (
	classStorageUnavailable = "storage_unavailable"
	classServiceTransient   = "service_transient"
	classAuthFailure        = "auth_failure"
	classProtocolMismatch   = "protocol_mismatch"
	classMalformedRequest   = "malformed_request"
	classUnknown            = "unknown"
)

// Classify names the failure class of a cycle error.
func Classify(err error) string {
	var malformed *normalizer.ErrMalformedRequest
	switch {
	case store.IsStorageUnavailable(err):
		return classStorageUnavailable
	case normalizer.IsTransient(err):
		return classServiceTransient
	case normalizer.IsAuthFailure(err):
		return classAuthFailure
	case normalizer.IsProtocolMismatch(err):
		return classProtocolMismatch
	case errors.As(err, &malformed):
		return classMalformedRequest
	default:
		return classUnknown
	}
}
