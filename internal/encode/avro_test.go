package encode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/retake-earth/connect/internal/types"
)

const documentSchema = `{
  "type": "record",
  "name": "Document",
  "fields": [
    {"name": "doc", "type": {"type": "array", "items": "float"}},
    {"name": "metadata", "type": {"type": "array", "items": "string"}}
  ]
}`

func TestEncodeFraming(t *testing.T) {
	env, err := NewEnvelope(42, documentSchema)
	if err != nil {
		t.Fatal(err)
	}

	b, err := env.Encode(types.OutputMessage{Doc: []float32{0.1, 0.2}})
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x0 {
		t.Errorf("magic byte = %#x", b[0])
	}
	if id := binary.BigEndian.Uint32(b[1:5]); id != 42 {
		t.Errorf("schema id = %d, want 42", id)
	}
	if len(b) <= 5 {
		t.Error("no avro body after framing")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(7, documentSchema)
	if err != nil {
		t.Fatal(err)
	}

	in := types.OutputMessage{Doc: []float32{0.1, 0.2}, Metadata: []string{"a", "b"}}
	b, err := env.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := env.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Doc) != 2 || out.Doc[0] != 0.1 || out.Doc[1] != 0.2 {
		t.Errorf("doc = %v", out.Doc)
	}
	if len(out.Metadata) != 2 || out.Metadata[0] != "a" {
		t.Errorf("metadata = %v", out.Metadata)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	env, err := NewEnvelope(7, documentSchema)
	if err != nil {
		t.Fatal(err)
	}

	msg := types.OutputMessage{Doc: []float32{0.5, -0.25}, Metadata: []string{"x"}}
	first, err := env.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := env.Encode(msg)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("repeated encodes produced different bytes")
		}
	}
}

func TestEncodeEmptyMetadata(t *testing.T) {
	env, err := NewEnvelope(7, documentSchema)
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Encode(types.OutputMessage{Doc: []float32{0.1, 0.2}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := env.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Metadata) != 0 {
		t.Errorf("metadata = %v, want empty", out.Metadata)
	}
}

func TestEncodeShapeMismatch(t *testing.T) {
	// Schema without the metadata field: any encode against it must fail
	// with an EncodingError, not a panic.
	narrow := `{
	  "type": "record",
	  "name": "Document",
	  "fields": [{"name": "other", "type": "string"}]
	}`
	env, err := NewEnvelope(7, narrow)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Encode(types.OutputMessage{Doc: []float32{0.1}})
	var enc *EncodingError
	if !errors.As(err, &enc) {
		t.Fatalf("err = %v, want EncodingError", err)
	}
}

func TestNewEnvelopeBadSchema(t *testing.T) {
	if _, err := NewEnvelope(1, "{not avro"); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestDecodeWrongSchemaID(t *testing.T) {
	env, err := NewEnvelope(7, documentSchema)
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Encode(types.OutputMessage{Doc: []float32{0.1}})
	if err != nil {
		t.Fatal(err)
	}
	binary.BigEndian.PutUint32(b[1:5], 99)
	if _, err := env.Decode(b); err == nil {
		t.Fatal("expected schema id mismatch error")
	}
}
