// Package kafka publishes output envelopes to the destination topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DeliveryError marks a publish that was not acknowledged by the broker.
// The record's offset must not be committed; replay after restart is the
// recovery path, idempotent because messages are keyed by row identity.
type DeliveryError struct {
	Topic string
	Key   []byte
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (key %q): %v", e.Topic, e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewProducer builds a synchronous writer: WriteMessages blocks until the
// broker acknowledges, so delivery failures surface as errors instead of
// being fired and forgotten. The hash balancer keys on the row identity,
// keeping every version of a row in one partition.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug("kafka writer", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("kafka writer", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
	}
	return &Producer{writer: writer, topic: topic, logger: logger}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	return p.write(ctx, kafka.Message{Key: key, Value: value})
}

// PublishDelete emits a tombstone for the row key, the delete instruction
// understood by log-compacted sink consumers.
func (p *Producer) PublishDelete(ctx context.Context, key []byte) error {
	return p.write(ctx, kafka.Message{Key: key, Value: nil})
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return &DeliveryError{Topic: p.topic, Key: msg.Key, Err: err}
	}
	p.logger.Debug("message delivered",
		zap.String("topic", p.topic),
		zap.ByteString("key", msg.Key),
		zap.Int("value_bytes", len(msg.Value)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Producer) Close() error {
	p.logger.Info("closing producer", zap.String("topic", p.topic))
	return p.writer.Close()
}
