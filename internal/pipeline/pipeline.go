// Package pipeline orchestrates the transform-and-embed flow: decode each
// source record, short-circuit deletes, otherwise transform, embed, encode,
// and publish, committing the source offset only once the output is durably
// published or dead-lettered.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/retake-earth/connect/internal/config"
	"github.com/retake-earth/connect/internal/deadletter"
	"github.com/retake-earth/connect/internal/decode"
	"github.com/retake-earth/connect/internal/embeddings"
	"github.com/retake-earth/connect/internal/metrics"
	"github.com/retake-earth/connect/internal/transform"
	"github.com/retake-earth/connect/internal/types"
)

// Fetcher is the consumer-group half of the source topic. Satisfied by
// *kafka.Reader.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Encoder serializes an output message into its wire envelope.
type Encoder interface {
	Encode(msg types.OutputMessage) ([]byte, error)
}

type Pipeline struct {
	fetcher  Fetcher
	mapper   types.Mapper
	encoder  Encoder
	producer types.Producer
	dlq      deadletter.Queue
	metrics  *metrics.Metrics
	logger   *zap.Logger

	sourceTopic string
	keyColumn   string
	queueDepth  int
	retry       config.RetryConfig

	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	processed int64
	committed map[int]int64
}

func NewPipeline(fetcher Fetcher, mapper types.Mapper, encoder Encoder, producer types.Producer, dlq deadletter.Queue, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		fetcher:     fetcher,
		mapper:      mapper,
		encoder:     encoder,
		producer:    producer,
		dlq:         dlq,
		metrics:     m,
		logger:      logger,
		sourceTopic: cfg.Kafka.SourceTopic,
		keyColumn:   cfg.Mapping.KeyColumn,
		queueDepth:  cfg.Kafka.QueueDepth,
		retry:       cfg.Retry,
		committed:   make(map[int]int64),
	}
}

// Run fetches from the source topic and dispatches each message to its
// partition's worker. A worker processes its partition strictly in arrival
// order; partitions progress independently, so a slow embedding call on one
// partition does not stall the others. Bounded worker queues provide
// backpressure: when a partition falls behind, the fetch loop blocks instead
// of buffering without limit. Run returns when ctx is cancelled, the source
// is drained (io.EOF), or a delivery failure halts a partition.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	queues := make(map[int]chan kafka.Message)
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		if err == nil {
			err = p.runErr()
		}
	}()

	for {
		msg, ferr := p.fetcher.FetchMessage(ctx)
		if ferr != nil {
			if errors.Is(ferr, context.Canceled) || errors.Is(ferr, io.EOF) {
				return nil
			}
			return ferr
		}

		q, ok := queues[msg.Partition]
		if !ok {
			q = make(chan kafka.Message, p.queueDepth)
			queues[msg.Partition] = q
			wg.Add(1)
			go func(partition int, q <-chan kafka.Message) {
				defer wg.Done()
				p.worker(ctx, partition, q)
			}(msg.Partition, q)
		}

		select {
		case q <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, partition int, q <-chan kafka.Message) {
	for msg := range q {
		if ctx.Err() != nil {
			// Shutdown: abandon queued records without committing so a
			// restart replays them.
			return
		}
		if err := p.handle(ctx, msg); err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("partition halted",
					zap.Int("partition", partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				p.fail(err)
			}
			p.cancel()
			return
		}
	}
}

// handle runs one record through the state machine. A nil return means the
// record reached Published or DeadLettered and its offset was committed.
// A non-nil return means delivery could not be confirmed; the offset stays
// uncommitted and the partition halts so a restart replays from it.
func (p *Pipeline) handle(ctx context.Context, msg kafka.Message) error {
	ev, err := decode.Record(msg.Value, msg.Key)
	if err != nil {
		return p.deadLetter(ctx, msg, deadletter.KindMalformed, err)
	}

	key := transform.RowKey(p.keyColumn, ev.Payload, ev.RawKey)

	if ev.Op == types.OpDelete {
		start := time.Now()
		if err := p.producer.PublishDelete(ctx, key); err != nil {
			return err
		}
		p.metrics.PublishDuration.Observe(time.Since(start).Seconds())
		p.metrics.RecordsTotal.WithLabelValues("deleted").Inc()
		p.logger.Debug("delete forwarded",
			zap.ByteString("key", key),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))
		return p.commit(ctx, msg)
	}

	doc, err := p.mapper.Transform(ev.Payload)
	if err != nil {
		return p.deadLetter(ctx, msg, deadletter.KindTransform, err)
	}

	vec, err := p.embed(ctx, doc)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return p.deadLetter(ctx, msg, deadletter.KindEmbedding, err)
	}

	meta, err := p.mapper.Metadata(ev.Payload)
	if err != nil {
		return p.deadLetter(ctx, msg, deadletter.KindTransform, err)
	}

	value, err := p.encoder.Encode(types.OutputMessage{Doc: vec, Metadata: meta})
	if err != nil {
		return p.deadLetter(ctx, msg, deadletter.KindEncoding, err)
	}

	start := time.Now()
	if err := p.producer.Publish(ctx, key, value); err != nil {
		return err
	}
	p.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	p.metrics.RecordsTotal.WithLabelValues("published").Inc()
	return p.commit(ctx, msg)
}

// embed retries transient failures with bounded exponential backoff, then
// gives up; permanent failures stop the retry loop immediately.
func (p *Pipeline) embed(ctx context.Context, doc string) ([]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retry.InitialInterval()
	bo.MaxInterval = p.retry.MaxInterval()
	bo.MaxElapsedTime = 0

	var vec []float32
	attempt := 0
	op := func() error {
		attempt++
		start := time.Now()
		v, err := p.mapper.Embed(ctx, doc)
		if err != nil {
			if embeddings.IsPermanent(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			p.metrics.EmbedRetries.Inc()
			p.logger.Warn("transient embedding failure",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		p.metrics.EmbedDuration.Observe(time.Since(start).Seconds())
		vec = v
		return nil
	}

	var maxRetries uint64
	if p.retry.MaxAttempts > 1 {
		maxRetries = uint64(p.retry.MaxAttempts - 1)
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, err
	}
	return vec, nil
}

func (p *Pipeline) deadLetter(ctx context.Context, msg kafka.Message, kind deadletter.Kind, cause error) error {
	entry := deadletter.Entry{
		SourceTopic: p.sourceTopic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Key:         msg.Key,
		Value:       msg.Value,
		Kind:        kind,
		Error:       cause.Error(),
	}
	if err := p.dlq.Publish(ctx, entry); err != nil {
		return err
	}
	p.metrics.RecordsTotal.WithLabelValues("dead_lettered").Inc()
	p.metrics.DeadLettersTotal.WithLabelValues(string(kind)).Inc()
	return p.commit(ctx, msg)
}

func (p *Pipeline) commit(ctx context.Context, msg kafka.Message) error {
	if err := p.fetcher.CommitMessages(ctx, msg); err != nil {
		return err
	}
	p.mu.Lock()
	p.processed++
	p.committed[msg.Partition] = msg.Offset
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) runErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Status reports progress for the health endpoint.
type Status struct {
	Processed int64         `json:"processed"`
	Committed map[int]int64 `json:"committed_offsets"`
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	committed := make(map[int]int64, len(p.committed))
	for partition, offset := range p.committed {
		committed[partition] = offset
	}
	return Status{Processed: p.processed, Committed: committed}
}
