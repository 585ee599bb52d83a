package logstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dukex/nodelog/pkg/storage"
)

// normalizePayload turns []byte into its base64 string, the form encoding/json
// gives it inline, so offloaded and inline bytes read back identically.
func normalizePayload(value any) any {
	if b, ok := value.([]byte); ok {
		return base64.StdEncoding.EncodeToString(b)
	}

	return value
}

// Measure returns the byte length a payload occupies once serialized: the raw
// length for strings, the base64 length for bytes, the compact UTF-8 JSON length
// otherwise. nil is 0.
func Measure(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		return int64(len(v)), nil
	case []byte:
		return int64(base64.StdEncoding.EncodedLen(len(v))), nil
	case json.RawMessage:
		return int64(len(v)), nil
	}

	body, err := storage.MarshalJSON(value)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize payload: %w", err)
	}

	return int64(len(body)), nil
}
