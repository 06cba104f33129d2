// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	gatewaySteps     *prometheus.CounterVec
	finalizeJobs     *prometheus.CounterVec
	finalizeDuration prometheus.Histogram
	billingEvents    *prometheus.CounterVec
	reqTotal         *prometheus.CounterVec
	reqDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeploy_agent_transitions_total",
			Help: "Agent status transitions by source and target status.",
		}, []string{"from", "to"}),
		gatewaySteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeploy_gateway_steps_total",
			Help: "Provisioning steps executed against the infrastructure provider.",
		}, []string{"step", "result"}),
		finalizeJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeploy_finalize_jobs_total",
			Help: "Finalize jobs by terminal status.",
		}, []string{"status"}),
		finalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentdeploy_finalize_duration_seconds",
			Help:    "Wall time of finalize handshakes.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1200},
		}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeploy_billing_events_total",
			Help: "Billing webhook events by type and result.",
		}, []string{"type", "result"}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeploy_http_requests_total",
			Help: "Total HTTP requests handled by route.",
		}, []string{"method", "route", "status"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentdeploy_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.gatewaySteps,
		m.finalizeJobs,
		m.finalizeDuration,
		m.billingEvents,
		m.reqTotal,
		m.reqDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) GatewayStep(step, result string) {
	if m == nil {
		return
	}
	m.gatewaySteps.WithLabelValues(step, result).Inc()
}

func (m *Metrics) FinalizeJob(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.finalizeJobs.WithLabelValues(status).Inc()
	m.finalizeDuration.Observe(took.Seconds())
}

func (m *Metrics) BillingEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.billingEvents.WithLabelValues(eventType, result).Inc()
}

// HTTPRequest records one served request. route is the mux pattern, not the raw path.
func (m *Metrics) HTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.reqTotal.WithLabelValues(method, route, code).Inc()
	m.reqDuration.WithLabelValues(method, route, code).Observe(took.Seconds())
}
