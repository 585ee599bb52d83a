package logstore

import "errors"

var (
	// ErrInvalidLog indicates NodeLogData that failed validation.
	ErrInvalidLog = errors.New("invalid node log")

	// ErrNotOffloaded indicates a payload field that is stored inline.
	ErrNotOffloaded = errors.New("payload is not offloaded")

	// ErrInvalidField indicates a payload field name other than input or output.
	ErrInvalidField = errors.New("invalid payload field")
)
