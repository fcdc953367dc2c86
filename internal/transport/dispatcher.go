package transport

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/observability/metrics"
	"github.com/drfirst/go-eps/pkg/circuitbreaker"
	"github.com/drfirst/go-eps/pkg/workerpool"
)

// Dispatcher sends messages through a worker pool, retrying failures that
// may succeed on another attempt.
type Dispatcher struct {
	name    string
	sender  Sender
	pool    *workerpool.Pool[Message]
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewDispatcher starts a pool delivering through sender. name labels the
// transport in metrics; m may be nil.
func NewDispatcher(name string, sender Sender, cfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = retryable
	}
	d := &Dispatcher{
		name:    name,
		sender:  sender,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("transport"),
	}
	pool, err := workerpool.New(cfg, d.deliver, logger)
	if err != nil {
		return nil, err
	}
	pool.Start()
	d.pool = pool
	return d, nil
}

// retryable excludes rejections and an open circuit.
func retryable(err error) bool {
	return !IsRejected(err) && !errors.Is(err, circuitbreaker.ErrOpen)
}

func (d *Dispatcher) deliver(ctx context.Context, job workerpool.Job[Message]) error {
	return d.sender.Send(ctx, job.Payload)
}

// Send delivers one message.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	return d.SendBatch(ctx, []Message{msg})
}

// SendBatch delivers messages concurrently and waits for all of them.
// The error joins every failed delivery.
func (d *Dispatcher) SendBatch(ctx context.Context, msgs []Message) error {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("transport", d.name),
			attribute.Int("batch_size", len(msgs)),
		))
	defer span.End()

	jobs := make([]workerpool.Job[Message], len(msgs))
	for i, m := range msgs {
		jobs[i] = workerpool.Job[Message]{ID: fmt.Sprintf("%s/%s/%d", m.ShortFormID, m.Kind, i), Payload: m}
	}

	var errs []error
	for i, res := range d.pool.Do(ctx, jobs) {
		outcome := "sent"
		if res.Err != nil {
			outcome = "failed"
			errs = append(errs, fmt.Errorf("%s %s: %w", msgs[i].Kind, msgs[i].ShortFormID, res.Err))
		}
		if d.metrics != nil {
			d.metrics.MessagesSent.WithLabelValues(d.name, outcome).Inc()
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Stats returns the pool statistics.
func (d *Dispatcher) Stats() workerpool.Stats { return d.pool.Stats() }

// Close waits for queued deliveries and stops the pool.
func (d *Dispatcher) Close() error {
	return d.pool.Stop()
}
