package storage

import (
	"errors"
	"fmt"

	"github.com/dukex/nodelog/pkg/models"
)

var (
	// ErrNotFound indicates no object exists for the given key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey indicates a key that is empty once sanitized.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrCorruptContent indicates stored content that cannot be decoded.
	ErrCorruptContent = errors.New("corrupt object content")
)

// OpError wraps a backend failure with the operation and key it happened on.
type OpError struct {
	Op      string
	Backend models.StorageBackend
	Key     string
	Err     error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewOpError(op string, backend models.StorageBackend, key string, err error) *OpError {
	return &OpError{Op: op, Backend: backend, Key: key, Err: err}
}

// IsNotFound checks if an error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
