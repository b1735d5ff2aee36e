package wire

import (
	"encoding/json"

	"github.com/keeperhq/landkit/pkg/state"
)

// MarshalValue serializes a snapshot value as natural JSON, the same form
// the JSON frame encoding uses. Replay recordings share it so recorded
// payloads round-trip identically to wire payloads.
func MarshalValue(v state.Value) (json.RawMessage, error) {
	return marshalValue(v)
}

// UnmarshalValue is the inverse of MarshalValue. Numbers without a fraction
// or exponent decode as integers.
func UnmarshalValue(raw json.RawMessage) (state.Value, error) {
	return unmarshalValue(raw)
}
