package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type StorageBackend string

const (
	StorageBackendS3    StorageBackend = "s3"
	StorageBackendLocal StorageBackend = "local"
)

type PayloadField string

const (
	PayloadFieldInput  PayloadField = "input"
	PayloadFieldOutput PayloadField = "output"
)

// StoragePointer references a payload that was moved to blob storage.
type StoragePointer struct {
	Backend     StorageBackend `json:"backend"`
	Key         string         `json:"key"`
	Size        int64          `json:"size"`
	OffloadedAt time.Time      `json:"offloaded_at"`
}

// Payload holds either an inline value or a pointer to an offloaded blob, never both.
// The zero value is an empty inline payload.
type Payload struct {
	value   any
	pointer *StoragePointer
}

func Inline(value any) Payload {
	return Payload{value: value}
}

func Offloaded(pointer StoragePointer) Payload {
	return Payload{pointer: &pointer}
}

func (p Payload) IsOffloaded() bool {
	return p.pointer != nil
}

// IsEmpty reports whether the payload is inline and nil.
func (p Payload) IsEmpty() bool {
	return p.pointer == nil && p.value == nil
}

// Value returns the inline value. It is nil for offloaded payloads.
func (p Payload) Value() any {
	return p.value
}

func (p Payload) Pointer() (StoragePointer, bool) {
	if p.pointer == nil {
		return StoragePointer{}, false
	}

	return *p.pointer, true
}

// Any returns the inline value, or the pointer itself when offloaded.
func (p Payload) Any() any {
	if p.pointer != nil {
		return *p.pointer
	}

	return p.value
}

const (
	payloadKindInline    = "inline"
	payloadKindOffloaded = "offloaded"
)

type payloadEnvelope struct {
	Kind    string          `json:"kind"`
	Value   json.RawMessage `json:"value,omitempty"`
	Pointer *StoragePointer `json:"pointer,omitempty"`
}

// MarshalJSON encodes the payload as a tagged envelope so inline user data can never
// be mistaken for a pointer.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.pointer != nil {
		return json.Marshal(payloadEnvelope{Kind: payloadKindOffloaded, Pointer: p.pointer})
	}

	envelope := payloadEnvelope{Kind: payloadKindInline}

	if p.value != nil {
		raw, err := json.Marshal(p.value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inline payload: %w", err)
		}

		envelope.Value = raw
	}

	return json.Marshal(envelope)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Payload{}

		return nil
	}

	var envelope payloadEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return fmt.Errorf("failed to unmarshal payload envelope: %w", err)
	}

	switch envelope.Kind {
	case payloadKindOffloaded:
		if envelope.Pointer == nil {
			return errors.New("offloaded payload without pointer")
		}

		*p = Offloaded(*envelope.Pointer)
	case payloadKindInline:
		var value any

		if len(envelope.Value) > 0 {
			err := json.Unmarshal(envelope.Value, &value)
			if err != nil {
				return fmt.Errorf("failed to unmarshal inline payload: %w", err)
			}
		}

		*p = Inline(value)
	default:
		return fmt.Errorf("unknown payload kind %q", envelope.Kind)
	}

	return nil
}
