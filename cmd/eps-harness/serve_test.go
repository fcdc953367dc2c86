package main

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/config"
	"github.com/drfirst/go-eps/internal/observability/metrics"
)

func TestOutboundCloseRunsLastFirst(t *testing.T) {
	out := &outbound{}
	var order []string
	out.onClose(func() error { order = append(order, "first"); return nil })
	out.onClose(func() error { order = append(order, "second"); return errors.New("flush failed") })

	out.close(zap.NewNop())
	assert.Equal(t, []string{"second", "first"}, order)

	out.close(zap.NewNop())
	assert.Len(t, order, 2, "closers run once")
}

func TestDeadLetterProducerIsClosedOnShutdown(t *testing.T) {
	cfg := &config.Config{Transport: config.TransportLog, KafkaBrokers: []string{"127.0.0.1:1"}}
	out, err := newOutbound(cfg, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, out.producer)
	assert.Empty(t, out.closers)

	p, err := out.deadLetterProducer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Same(t, p, out.producer)
	assert.Len(t, out.closers, 1)

	again, err := out.deadLetterProducer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.Len(t, out.closers, 1)

	out.close(zap.NewNop())
	assert.Empty(t, out.closers)
}
