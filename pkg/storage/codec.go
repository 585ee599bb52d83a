package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode turns an upload value into the bytes a provider stores, along with the
// content type to record when the caller did not choose one.
func Encode(data any) ([]byte, string, error) {
	switch v := data.(type) {
	case nil:
		return []byte("null"), ContentTypeJSON, nil
	case json.RawMessage:
		return v, ContentTypeJSON, nil
	case []byte:
		return v, ContentTypeText, nil
	case string:
		return []byte(v), ContentTypeText, nil
	default:
		body, err := MarshalJSON(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode upload data: %w", err)
		}

		return body, ContentTypeJSON, nil
	}
}

// MarshalJSON encodes v as compact JSON without HTML escaping. Uploads and payload
// size measurement both go through it so recorded sizes match stored bytes.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	err := encoder.Encode(v)
	if err != nil {
		return nil, err
	}

	// Encode terminates the value with a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode is the inverse of Encode. JSON content is decoded into a structured value
// and fails with ErrCorruptContent when malformed; other content is returned as text.
func Decode(body []byte, contentType string, raw bool) (any, error) {
	if raw || !IsJSONContentType(contentType) {
		return string(body), nil
	}

	var value any

	err := json.Unmarshal(body, &value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptContent, err)
	}

	return value, nil
}

func IsJSONContentType(contentType string) bool {
	return contentType == "" || strings.HasPrefix(contentType, ContentTypeJSON)
}

// UploadContentType prefers the caller's content type over the encoded default.
func UploadContentType(opts *UploadOptions, encoded string) string {
	if opts != nil && opts.ContentType != "" {
		return opts.ContentType
	}

	return encoded
}
