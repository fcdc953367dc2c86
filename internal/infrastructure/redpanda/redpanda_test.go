package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeClient struct {
	records []*kgo.Record
	failKey string
	closed  bool
}

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		var err error
		if string(r.Key) == f.failKey {
			err = errors.New("NOT_LEADER_FOR_PARTITION")
		} else {
			f.records = append(f.records, r)
		}
		out = append(out, kgo.ProduceResult{Record: r, Err: err})
	}
	return out
}

func (f *fakeClient) Flush(context.Context) error { return nil }
func (f *fakeClient) Close()                      { f.closed = true }

type fakePublisher struct {
	msgs []Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func withTracing(t *testing.T) {
	t.Helper()
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestPublishCarriesHeadersAndTraceContext(t *testing.T) {
	withTracing(t)
	client := &fakeClient{}
	p := newProducer(client, nil)

	err := p.Publish(context.Background(), Message{
		Topic: TopicOutbound,
		Key:   "A0B1C2-A83008-3F4E59",
		Value: []byte(`{"resourceType":"Bundle"}`),
		Headers: map[string]string{
			HeaderKind:        "dispense-notification",
			HeaderContentType: ContentTypeFHIRJSON,
		},
	})
	require.NoError(t, err)
	require.Len(t, client.records, 1)

	carrier := RecordCarrier{Record: client.records[0]}
	assert.Equal(t, "dispense-notification", carrier.Get(HeaderKind))
	assert.Equal(t, ContentTypeFHIRJSON, carrier.Get(HeaderContentType))
	assert.NotEmpty(t, carrier.Get("traceparent"))
	assert.Equal(t, ProducerStats{MessagesSent: 1, BytesSent: 25}, p.Stats())
}

func TestPublishBatchReportsFailures(t *testing.T) {
	client := &fakeClient{failKey: "bad"}
	p := newProducer(client, nil)

	err := p.PublishBatch(context.Background(), []Message{
		{Topic: TopicOutbound, Key: "good"},
		{Topic: TopicOutbound, Key: "bad"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 messages failed")
	assert.Equal(t, int64(1), p.Stats().ErrorCount)
	assert.NoError(t, p.PublishBatch(context.Background(), nil))

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}

func TestRecordCarrierSetReplaces(t *testing.T) {
	r := &kgo.Record{}
	c := RecordCarrier{Record: r}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Empty(t, c.Get("missing"))
}

func TestProcessCommitsHandledRecords(t *testing.T) {
	var got *ConsumedMessage
	c := newConsumer(DefaultConsumerConfig(nil, "g", TopicInbound), func(_ context.Context, msg *ConsumedMessage) error {
		got = msg
		return nil
	}, nil, nil)

	ok := c.process(&kgo.Record{
		Topic: TopicInbound, Key: []byte("k"), Value: []byte("v"),
		Headers: []kgo.RecordHeader{{Key: HeaderKind, Value: []byte("order")}},
	})
	assert.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "order", got.Headers[HeaderKind])
	assert.Equal(t, ConsumerStats{MessagesRead: 1}, c.Stats())
}

func TestProcessDeadLettersRejectedRecords(t *testing.T) {
	dl := &fakePublisher{}
	c := newConsumer(DefaultConsumerConfig(nil, "g", TopicInbound), func(context.Context, *ConsumedMessage) error {
		return errors.New("malformed bundle")
	}, dl, nil)

	assert.True(t, c.process(&kgo.Record{Topic: TopicInbound, Key: []byte("k"), Value: []byte("v")}))
	require.Len(t, dl.msgs, 1)
	assert.Equal(t, TopicDeadLetter, dl.msgs[0].Topic)
	assert.Equal(t, "malformed bundle", dl.msgs[0].Headers[HeaderError])
	assert.Equal(t, int64(1), c.Stats().DeadLettered)

	dl.err = errors.New("broker down")
	assert.False(t, c.process(&kgo.Record{Topic: TopicInbound}))
}

func TestProcessWithoutDeadLetterLeavesRecordUncommitted(t *testing.T) {
	cfg := DefaultConsumerConfig(nil, "g", TopicInbound)
	cfg.DeadLetterTopic = ""
	c := newConsumer(cfg, func(context.Context, *ConsumedMessage) error {
		return errors.New("store unavailable")
	}, &fakePublisher{}, nil)

	assert.False(t, c.process(&kgo.Record{Topic: TopicInbound}))
	assert.Equal(t, int64(1), c.Stats().ErrorCount)
}

func TestTopicConfigs(t *testing.T) {
	cfgs := TopicConfigs("out", "in")
	require.Len(t, cfgs, 3)
	assert.Equal(t, "out", cfgs[0].Name)
	assert.Equal(t, "in", cfgs[1].Name)
	assert.Equal(t, TopicDeadLetter, cfgs[2].Name)
	assert.Equal(t, "delete", *cfgs[0].Configs["cleanup.policy"])
}

func TestSumLag(t *testing.T) {
	described := kadm.DescribedGroupLags{
		"eps-harness": {
			Group: "eps-harness",
			Lag: kadm.GroupLag{
				"eps.prescriptions.released": {
					0: {Lag: 3},
					1: {Lag: 4},
					2: {Lag: -1},
				},
				"eps.prescriptions.released.dlq": {
					0: {Lag: 0},
				},
			},
		},
	}

	lag := sumLag(described)
	assert.Equal(t, map[string]int64{
		"eps.prescriptions.released":     7,
		"eps.prescriptions.released.dlq": 0,
	}, lag)
	assert.Empty(t, sumLag(nil))
}
