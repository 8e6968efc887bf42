// Package listener owns the per-subject pull-consumer lifecycle: ensuring
// a durable JetStream consumer exists for a response subject, running its
// batched fetch loop with exponential back-off, decoding each message,
// and handing the result to the correlation engine.
package listener

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingIDField is returned when the configured idField is absent, not
// a string, or empty in a decoded message body.
var ErrMissingIDField = errors.New("listener: message missing id field")

// DecodeResult is the outcome of processing one raw JetStream message.
type DecodeResult struct {
	ExtractedID string
	Payload     json.RawMessage
}

// decodeMessage parses raw as a JSON object and extracts the top-level
// string field named idField. It is the sole place SERIALIZATION_ERROR
// and MISSING_ID_FIELD can originate, per spec.md's error taxonomy.
func decodeMessage(raw []byte, idField string) (DecodeResult, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return DecodeResult{}, fmt.Errorf("decode message body: %w", err)
	}

	rawID, ok := body[idField]
	if !ok {
		return DecodeResult{}, ErrMissingIDField
	}

	var id string
	if err := json.Unmarshal(rawID, &id); err != nil || id == "" {
		return DecodeResult{}, ErrMissingIDField
	}

	return DecodeResult{ExtractedID: id, Payload: json.RawMessage(raw)}, nil
}
