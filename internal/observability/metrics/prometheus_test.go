package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MessagesBuilt.WithLabelValues("claim").Inc()
	m.BuildErrors.WithLabelValues("claim", "precondition").Inc()
	m.SetBreakerState("eps", "open")
	m.PrescriptionsHeld.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesBuilt.WithLabelValues("claim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("eps")))
	m.SetBreakerState("eps", "half-open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("eps")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `eps_build_errors_total{error="precondition",kind="claim"} 1`)
	assert.Contains(t, string(body), "eps_prescriptions_held 3")
}
