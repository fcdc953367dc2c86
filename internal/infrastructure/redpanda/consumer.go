package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HeaderError carries the handler error on dead-lettered records.
const HeaderError = "eps-error"

// ConsumerConfig holds configuration for the consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// DeadLetterTopic receives records the handler rejects. When empty a
	// rejected record is left uncommitted and redelivered.
	DeadLetterTopic   string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConsumerConfig returns defaults for consuming released orders.
func DefaultConsumerConfig(brokers []string, group, topic string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:           brokers,
		GroupID:           group,
		Topics:            []string{topic},
		DeadLetterTopic:   TopicDeadLetter,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	}
}

// MessageHandler is called for each consumed message.
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage is a record handed to the handler.
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Publisher publishes dead-lettered records.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Consumer reads a consumer group and commits each record once handled.
type Consumer struct {
	client     *kgo.Client
	config     ConsumerConfig
	logger     *zap.Logger
	tracer     trace.Tracer
	handler    MessageHandler
	deadLetter Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesRead atomic.Int64
	deadLettered atomic.Int64
	errorCount   atomic.Int64
}

// NewConsumer creates a consumer. deadLetter may be nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, deadLetter Publisher, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	if cfg.HeartbeatInterval > 0 {
		opts = append(opts, kgo.HeartbeatInterval(cfg.HeartbeatInterval))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	c := newConsumer(cfg, handler, deadLetter, logger)
	c.client = client
	return c, nil
}

func newConsumer(cfg ConsumerConfig, handler MessageHandler, deadLetter Publisher, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeadLetterTopic == "" {
		deadLetter = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer("redpanda-consumer"),
		handler:    handler,
		deadLetter: deadLetter,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins consuming messages
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
	c.logger.Info("consumer started",
		zap.Strings("topics", c.config.Topics),
		zap.String("group", c.config.GroupID))
}

// Stop stops polling, commits what was handled and closes the client.
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}
	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.errorCount.Add(1)
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		fetches.EachRecord(func(record *kgo.Record) {
			if c.process(record) {
				c.client.MarkCommitRecords(record)
			}
		})
		if err := c.client.CommitUncommittedOffsets(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("failed to commit offsets", zap.Error(err))
		}
	}
}

// process handles one record and reports whether it may be committed.
func (c *Consumer) process(record *kgo.Record) bool {
	ctx := otel.GetTextMapPropagator().Extract(c.ctx, RecordCarrier{Record: record})
	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	c.messagesRead.Add(1)
	err := c.handler(ctx, msg)
	if err == nil {
		return true
	}

	c.errorCount.Add(1)
	span.RecordError(err)
	c.logger.Error("message handler failed",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset),
		zap.Error(err))

	if c.deadLetter == nil {
		return false
	}
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderError] = err.Error()
	dlErr := c.deadLetter.Publish(ctx, Message{
		Topic:   c.config.DeadLetterTopic,
		Key:     string(record.Key),
		Value:   record.Value,
		Headers: headers,
	})
	if dlErr != nil {
		c.logger.Error("failed to dead-letter message", zap.Error(dlErr))
		return false
	}
	c.deadLettered.Add(1)
	return true
}

// ConsumerStats holds consumer statistics.
type ConsumerStats struct {
	MessagesRead int64
	DeadLettered int64
	ErrorCount   int64
}

// Stats returns current consumer statistics.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		MessagesRead: c.messagesRead.Load(),
		DeadLettered: c.deadLettered.Load(),
		ErrorCount:   c.errorCount.Load(),
	}
}
