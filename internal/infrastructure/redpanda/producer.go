// Package redpanda moves EPS messages over a Kafka-compatible broker with
// franz-go: outbound FHIR messages are published, released orders are
// consumed, and topics are provisioned through kadm.
package redpanda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Record headers set on every published message.
const (
	HeaderKind          = "eps-message-kind"
	HeaderShortFormID   = "eps-short-form-id"
	HeaderContentType   = "content-type"
	ContentTypeFHIRJSON = "application/fhir+json"
)

// ProducerConfig holds configuration for the producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// Linger is how long records wait to be batched.
	Linger time.Duration
	// Compression is one of lz4, snappy, gzip, zstd or empty for none.
	Compression string
	// RequiredAcks is -1 for all in-sync replicas, 1 for leader, 0 for none.
	RequiredAcks int16
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultProducerConfig returns defaults for outbound delivery. EPS
// messages are low volume and must not be lost, so batching is short and
// every replica acknowledges.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		ClientID:     "eps-harness",
		Linger:       5 * time.Millisecond,
		Compression:  "lz4",
		RequiredAcks: -1,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Message is a record to publish.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// syncProducer is the part of *kgo.Client the producer uses.
type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

// Producer publishes messages and waits for their acknowledgement.
type Producer struct {
	client syncProducer
	logger *zap.Logger
	tracer trace.Tracer

	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	errorCount   atomic.Int64
}

// NewProducer creates a producer connected to cfg.Brokers.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return cfg.RetryBackoff * time.Duration(attempt+1)
		}),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	switch cfg.RequiredAcks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown compression %q", cfg.Compression)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newProducer(client, logger), nil
}

func newProducer(client syncProducer, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}
}

// Publish sends one message and waits for it to be acknowledged.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	return p.PublishBatch(ctx, []Message{msg})
}

// PublishBatch sends messages together and waits for all of them. The
// first failure is returned.
func (p *Producer) PublishBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "produce_batch",
		trace.WithAttributes(
			attribute.Int("batch_size", len(msgs)),
			attribute.String("topic", msgs[0].Topic),
		))
	defer span.End()

	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = toRecord(ctx, m)
	}

	var failed int
	results := p.client.ProduceSync(ctx, records...)
	for _, r := range results {
		if r.Err != nil {
			failed++
			p.errorCount.Add(1)
			p.logger.Error("failed to produce message",
				zap.String("topic", r.Record.Topic),
				zap.String("key", string(r.Record.Key)),
				zap.Error(r.Err))
			continue
		}
		p.messagesSent.Add(1)
		p.bytesSent.Add(int64(len(r.Record.Value)))
		p.logger.Debug("message produced",
			zap.String("topic", r.Record.Topic),
			zap.Int32("partition", r.Record.Partition),
			zap.Int64("offset", r.Record.Offset))
	}

	if err := results.FirstErr(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%d of %d messages failed: %w", failed, len(msgs), err)
	}
	return nil
}

// Flush blocks until all buffered records are sent.
func (p *Producer) Flush(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// ProducerStats holds producer statistics.
type ProducerStats struct {
	MessagesSent int64
	BytesSent    int64
	ErrorCount   int64
}

// Stats returns current producer statistics.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent: p.messagesSent.Load(),
		BytesSent:    p.bytesSent.Load(),
		ErrorCount:   p.errorCount.Load(),
	}
}

func toRecord(ctx context.Context, m Message) *kgo.Record {
	r := &kgo.Record{Topic: m.Topic, Key: []byte(m.Key), Value: m.Value}
	for k, v := range m.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	otel.GetTextMapPropagator().Inject(ctx, RecordCarrier{Record: r})
	return r
}
