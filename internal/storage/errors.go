package storage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StorageError.
type ErrorKind string

const (
	KindQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	KindAccessDenied  ErrorKind = "ACCESS_DENIED"
	KindParseError    ErrorKind = "PARSE_ERROR"
	KindUnavailable   ErrorKind = "UNAVAILABLE"
	KindUnknown       ErrorKind = "UNKNOWN"
)

// StorageError is surfaced to callers of the persistence layer alongside a
// usable value. It is reported, never thrown.
type StorageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func NewError(kind ErrorKind, message string, cause error) *StorageError {
	return &StorageError{Kind: kind, Message: message, Cause: cause}
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of the first StorageError in err's chain, or
// KindUnknown.
func KindOf(err error) ErrorKind {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind
	}
	return KindUnknown
}
