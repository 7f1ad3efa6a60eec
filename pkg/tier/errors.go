package tier

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure.
type Kind string

const (
	// KindNotFound means the key is absent. Not a failure for callers.
	KindNotFound Kind = "not_found"

	// KindUnavailable means the medium cannot be reached or is disabled.
	KindUnavailable Kind = "unavailable"

	// KindQuotaExceeded means the medium refused the write for lack of space.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindCorrupt means the stored bytes could not be interpreted.
	KindCorrupt Kind = "corrupt"

	// KindTooLarge means the value exceeds a per-entry ceiling of the medium.
	KindTooLarge Kind = "too_large"

	// KindUnsupported means the medium cannot perform the operation.
	KindUnsupported Kind = "unsupported"
)

// StorageError is returned by every Backend primitive.
type StorageError struct {
	Tier string
	Op   string
	Kind Kind
	Key  string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Tier, e.Op)
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	msg += fmt.Sprintf(": %s", e.Kind)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a StorageError of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf returns the kind of a StorageError, or "" for other errors.
func KindOf(err error) Kind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(tier, op string, kind Kind, key string, err error) *StorageError {
	return &StorageError{Tier: tier, Op: op, Kind: kind, Key: key, Err: err}
}
