package types

import "context"

// Operation classifies a change event. The source CDC format only carries a
// deletion flag, so inserts and updates collapse into a single upsert.
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// ChangeEvent is one decoded row change from the source topic.
type ChangeEvent struct {
	Op      Operation
	Payload map[string]any
	RawKey  []byte
}

// OutputMessage is the envelope body published for every upsert.
type OutputMessage struct {
	Doc      []float32
	Metadata []string
}

// Mapper turns a row payload into the pieces of an OutputMessage. Transform
// and Metadata must be pure and deterministic so that replays after a
// crash-restart republish byte-identical envelopes. Embed may call an
// external model service and is the slow path of the pipeline.
type Mapper interface {
	Transform(payload map[string]any) (string, error)
	Embed(ctx context.Context, document string) ([]float32, error)
	Metadata(payload map[string]any) ([]string, error)
}

// Producer publishes to the destination topic. Writes are awaited: an error
// return means the record was not durably delivered and its offset must not
// be committed.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
	PublishDelete(ctx context.Context, key []byte) error
	Close() error
}
