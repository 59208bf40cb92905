// Package metrics exposes Prometheus collectors for the metered proxy.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeOK                = "ok"
	OutcomeDegraded          = "degraded"
	OutcomeUnauthorized      = "unauthorized"
	OutcomeQuotaExceeded     = "quota_exceeded"
	OutcomeUnsupportedAction = "unsupported_action"
	OutcomeInvalidPayload    = "invalid_payload"
	OutcomeUpstreamError     = "upstream_error"
	OutcomeUpstreamBilling   = "upstream_billing"
	OutcomeStorageError      = "storage_error"
	OutcomeRateLimited       = "rate_limited"
)

// Metrics holds the proxy collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	tokens           *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	storageFailures  *prometheus.CounterVec
	approachingLimit prometheus.Counter
}

// New registers the proxy collectors on a fresh registry.
func New() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplan_proxy_requests_total",
			Help: "Metered proxy requests by action and outcome.",
		}, []string{"action", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplan_proxy_tokens_total",
			Help: "Tokens charged to monthly quotas by action.",
		}, []string{"action"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealplan_upstream_duration_seconds",
			Help:    "Upstream chat completion latency.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"action"}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplan_quota_storage_failures_total",
			Help: "Quota store failures by phase.",
		}, []string{"phase"}),
		approachingLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealplan_quota_approaching_limit_total",
			Help: "Responses whose usage report crossed the warning threshold.",
		}),
	}
	registry.MustRegister(m.requests, m.tokens, m.upstreamLatency, m.storageFailures, m.approachingLimit)
	return m
}

// ObserveRequest counts one finished request.
func (m *Metrics) ObserveRequest(action, outcome string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.requests.WithLabelValues(action, outcome).Inc()
}

// AddTokens counts tokens charged for action.
func (m *Metrics) AddTokens(action string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokens.WithLabelValues(action).Add(float64(tokens))
}

// ObserveUpstream records the latency of one upstream call.
func (m *Metrics) ObserveUpstream(action string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(action).Observe(elapsed.Seconds())
}

// StorageFailure counts a quota store failure in phase ("precheck" or "update").
func (m *Metrics) StorageFailure(phase string) {
	if m == nil {
		return
	}
	m.storageFailures.WithLabelValues(phase).Inc()
}

// ApproachingLimit counts a report past the warning threshold.
func (m *Metrics) ApproachingLimit() {
	if m == nil {
		return
	}
	m.approachingLimit.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
