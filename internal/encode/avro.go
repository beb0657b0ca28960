// Package encode serializes output messages into schema-tagged Avro
// envelopes. The framing follows the registry wire format: a zero magic
// byte, the schema id as a big-endian uint32, then the Avro binary body, so
// downstream consumers can self-describe the payload from the id alone.
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/retake-earth/connect/internal/types"
)

const magicByte = 0x0

// EncodingError marks a message whose shape does not match the resolved
// schema. The record is dead-lettered; the process keeps running.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "encode output message: " + e.Err.Error() }

func (e *EncodingError) Unwrap() error { return e.Err }

// Envelope encodes against a single registry-resolved schema for the life
// of the process.
type Envelope struct {
	codec    *goavro.Codec
	schemaID int
}

func NewEnvelope(schemaID int, definition string) (*Envelope, error) {
	codec, err := goavro.NewCodec(definition)
	if err != nil {
		return nil, fmt.Errorf("parse schema %d: %w", schemaID, err)
	}
	return &Envelope{codec: codec, schemaID: schemaID}, nil
}

func (e *Envelope) SchemaID() int { return e.schemaID }

func (e *Envelope) Encode(msg types.OutputMessage) ([]byte, error) {
	doc := make([]any, len(msg.Doc))
	for i, f := range msg.Doc {
		doc[i] = f
	}
	metadata := make([]any, len(msg.Metadata))
	for i, s := range msg.Metadata {
		metadata[i] = s
	}

	body, err := e.codec.BinaryFromNative(nil, map[string]any{
		"doc":      doc,
		"metadata": metadata,
	})
	if err != nil {
		return nil, &EncodingError{Err: err}
	}

	out := make([]byte, 5, 5+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:5], uint32(e.schemaID))
	return append(out, body...), nil
}

// Decode reverses Encode. Used by tests and manual reprocessing tooling.
func (e *Envelope) Decode(b []byte) (types.OutputMessage, error) {
	if len(b) < 5 || b[0] != magicByte {
		return types.OutputMessage{}, &EncodingError{Err: fmt.Errorf("missing wire framing")}
	}
	if id := int(binary.BigEndian.Uint32(b[1:5])); id != e.schemaID {
		return types.OutputMessage{}, &EncodingError{Err: fmt.Errorf("schema id %d, expected %d", id, e.schemaID)}
	}

	native, _, err := e.codec.NativeFromBinary(b[5:])
	if err != nil {
		return types.OutputMessage{}, &EncodingError{Err: err}
	}
	record, ok := native.(map[string]any)
	if !ok {
		return types.OutputMessage{}, &EncodingError{Err: fmt.Errorf("decoded value is not a record")}
	}

	var msg types.OutputMessage
	if doc, ok := record["doc"].([]any); ok {
		msg.Doc = make([]float32, len(doc))
		for i, v := range doc {
			f, ok := v.(float32)
			if !ok {
				return types.OutputMessage{}, &EncodingError{Err: fmt.Errorf("doc[%d] is %T, not float32", i, v)}
			}
			msg.Doc[i] = f
		}
	}
	if metadata, ok := record["metadata"].([]any); ok {
		msg.Metadata = make([]string, len(metadata))
		for i, v := range metadata {
			s, ok := v.(string)
			if !ok {
				return types.OutputMessage{}, &EncodingError{Err: fmt.Errorf("metadata[%d] is %T, not string", i, v)}
			}
			msg.Metadata[i] = s
		}
	}
	return msg, nil
}
