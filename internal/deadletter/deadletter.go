// Package deadletter redirects unprocessable records to a separate topic
// instead of blocking the pipeline. Each entry keeps the original bytes and
// the error that killed the record, enough for manual reprocessing.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kind names the pipeline stage that rejected the record.
type Kind string

const (
	KindMalformed Kind = "malformed"
	KindTransform Kind = "transform"
	KindEmbedding Kind = "embedding"
	KindEncoding  Kind = "encoding"
)

// Entry is one dead-lettered record.
type Entry struct {
	ID          string    `json:"id"`
	SourceTopic string    `json:"source_topic"`
	Partition   int       `json:"partition"`
	Offset      int64     `json:"offset"`
	Key         []byte    `json:"key,omitempty"`
	Value       []byte    `json:"value"`
	Kind        Kind      `json:"kind"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// Queue accepts dead-lettered records.
type Queue interface {
	Publish(ctx context.Context, e Entry) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaQueue struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaQueue(brokers []string, topic string, logger *zap.Logger) Queue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("dead letter writer", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
	}
	return &kafkaQueue{writer: writer, topic: topic, logger: logger}
}

func (q *kafkaQueue) Publish(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal dead letter entry: %w", err)
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: e.Key, Value: b}); err != nil {
		return fmt.Errorf("write dead letter entry %s: %w", e.ID, err)
	}

	q.logger.Warn("record dead-lettered",
		zap.String("entry_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("source_topic", e.SourceTopic),
		zap.Int("partition", e.Partition),
		zap.Int64("offset", e.Offset),
		zap.String("error", e.Error))
	return nil
}

func (q *kafkaQueue) Close() error {
	return q.writer.Close()
}
