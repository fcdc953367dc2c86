package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/r4"
	"github.com/drfirst/go-eps/internal/infrastructure/redpanda"
	"github.com/drfirst/go-eps/internal/observability/metrics"
	"github.com/drfirst/go-eps/pkg/circuitbreaker"
	"github.com/drfirst/go-eps/pkg/workerpool"
)

func claimMessage() Message {
	return Message{
		Kind:        KindClaim,
		ShortFormID: fhirtest.ShortFormID,
		Resource:    &r4.Claim{DomainResource: r4.DomainResource{ResourceType: r4.TypeClaim, ID: "claim-1"}},
	}
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSender(zap.New(core))
	s.Payloads = true

	require.NoError(t, s.Send(context.Background(), claimMessage()))
	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "outbound message", entry.Message)
	assert.Equal(t, "claim", entry.ContextMap()["kind"])
	assert.Equal(t, "claim-1", entry.ContextMap()["resource_id"])

	err := s.Send(context.Background(), Message{Kind: KindClaim, ShortFormID: fhirtest.ShortFormID})
	assert.Error(t, err)
}

func TestHTTPSenderPostsFHIR(t *testing.T) {
	var gotPath, gotType, gotCorrelation string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL+"/", time.Second, nil, nil)
	require.NoError(t, s.Send(context.Background(), claimMessage()))

	assert.Equal(t, "/FHIR/R4/Claim", gotPath)
	assert.Equal(t, "application/fhir+json", gotType)
	assert.Equal(t, fhirtest.ShortFormID, gotCorrelation)
	assert.Equal(t, "Claim", gotBody["resourceType"])
}

func TestHTTPSenderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(r4.NewErrorOutcome("value", "Invalid prescription ID"))
	}))
	defer srv.Close()

	cb, err := circuitbreaker.New(BreakerConfig("eps"), nil)
	require.NoError(t, err)
	s := NewHTTPSender(srv.URL, time.Second, cb, nil)

	for i := 0; i < 6; i++ {
		err = s.Send(context.Background(), claimMessage())
		var re *RejectedError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, http.StatusBadRequest, re.StatusCode)
		assert.Equal(t, "Invalid prescription ID", re.Diagnostics)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.State(), "rejections must not open the circuit")
}

func TestHTTPSenderServerErrorsOpenCircuit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb, err := circuitbreaker.New(BreakerConfig("eps"), nil)
	require.NoError(t, err)
	s := NewHTTPSender(srv.URL, time.Second, cb, nil)

	for i := 0; i < 5; i++ {
		err = s.Send(context.Background(), claimMessage())
		require.Error(t, err)
		assert.False(t, IsRejected(err))
	}
	err = s.Send(context.Background(), claimMessage())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 5, calls)
}

func TestHTTPSenderUnknownKind(t *testing.T) {
	s := NewHTTPSender("http://eps.invalid", time.Second, nil, nil)
	err := s.Send(context.Background(), Message{Kind: "fax", Resource: &r4.Task{}})
	assert.Error(t, err)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []redpanda.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg redpanda.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestBrokerSender(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewBrokerSender(pub, redpanda.TopicOutbound)

	require.NoError(t, s.Send(context.Background(), claimMessage()))
	require.Len(t, pub.msgs, 1)
	m := pub.msgs[0]
	assert.Equal(t, redpanda.TopicOutbound, m.Topic)
	assert.Equal(t, fhirtest.ShortFormID, m.Key)
	assert.Equal(t, "claim", m.Headers[redpanda.HeaderKind])
	assert.Contains(t, string(m.Value), `"resourceType":"Claim"`)
}

type flakySender struct {
	mu       sync.Mutex
	failures map[string]int
	attempts map[string]int
	reject   string
}

func (s *flakySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := msg.Resource.GetID()
	s.attempts[id]++
	if id == s.reject {
		return &RejectedError{Kind: msg.Kind, StatusCode: http.StatusUnprocessableEntity}
	}
	if s.failures[id] > 0 {
		s.failures[id]--
		return errors.New("connection reset")
	}
	return nil
}

func TestDispatcherSendBatch(t *testing.T) {
	sender := &flakySender{
		failures: map[string]int{"b2": 1},
		attempts: map[string]int{},
		reject:   "b3",
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d, err := NewDispatcher("http", sender, workerpool.Config{Workers: 2, MaxRetries: 2, RetryDelay: time.Millisecond}, m, nil)
	require.NoError(t, err)
	defer d.Close()

	var msgs []Message
	for _, id := range []string{"b1", "b2", "b3"} {
		msgs = append(msgs, Message{
			Kind:        KindRepeatIssue,
			ShortFormID: fhirtest.ShortFormID,
			Resource:    &r4.Bundle{DomainResource: r4.DomainResource{ResourceType: r4.TypeBundle, ID: id}},
		})
	}

	err = d.SendBatch(context.Background(), msgs)
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, map[string]int{"b1": 1, "b2": 2, "b3": 1}, sender.attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("http", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("http", "failed")))

	require.NoError(t, d.Send(context.Background(), msgs[0]))
}
