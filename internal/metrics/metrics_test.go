package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("DRAFT", "CONFIGURED")
		m.GatewayStep("serviceCreate", "ok")
		m.FinalizeJob("succeeded", time.Second)
		m.BillingEvent("payment", "ok")
		m.HTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.Transition("DRAFT", "CONFIGURED")
	m.Transition("DRAFT", "CONFIGURED")
	m.GatewayStep("volumeCreate", "skipped")

	assert.InDelta(t, 2, testutil.ToFloat64(m.transitions.WithLabelValues("DRAFT", "CONFIGURED")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.gatewaySteps.WithLabelValues("volumeCreate", "skipped")), 0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.BillingEvent("preapproval", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agentdeploy_billing_events_total"))
}
