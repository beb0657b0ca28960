// Package decode parses raw source-topic records into typed change events.
package decode

import (
	"encoding/json"
	"fmt"

	"github.com/retake-earth/connect/internal/types"
)

const deletedField = "__deleted"

// MalformedError marks a record that cannot be parsed into a ChangeEvent.
// Such records are dead-lettered and skipped; they never stop the consumer.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed record: %s: %v", e.Reason, e.Err)
	}
	return "malformed record: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

type envelope struct {
	Payload map[string]any `json:"payload"`
}

// Record parses one raw record. The expected shape is
// {"payload": {<column>: <value>, ..., "__deleted": "true"|"false"}}.
// The deletion flag determines the operation and is stripped from the
// payload so downstream stages never see it.
func Record(raw, key []byte) (types.ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.ChangeEvent{}, &MalformedError{Reason: "invalid json", Err: err}
	}
	if env.Payload == nil {
		return types.ChangeEvent{}, &MalformedError{Reason: "missing payload field"}
	}

	ev := types.ChangeEvent{Op: types.OpUpsert, Payload: env.Payload, RawKey: key}
	if deleted(env.Payload[deletedField]) {
		ev.Op = types.OpDelete
	}
	delete(env.Payload, deletedField)
	return ev, nil
}

// deleted interprets the flag as Debezium emits it: the string "true", or a
// bare boolean when the connector is configured without string conversion.
func deleted(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "true"
	case bool:
		return t
	default:
		return false
	}
}
