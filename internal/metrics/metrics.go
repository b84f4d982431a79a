// Package metrics defines the Prometheus collectors exported by the auth
// service and the gateway. Each binary owns a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authgate"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued    *prometheus.CounterVec
	refreshOutcomes *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	validations     *prometheus.CounterVec
	storeRetries    prometheus.Counter
	purged          prometheus.Counter
}

// New registers the collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Token pairs issued, by reason.",
		}, []string{"reason"}),
		refreshOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh attempts, by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_revoked_total",
			Help:      "Refresh tokens revoked, by scope.",
		}, []string{"scope"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_validations_total",
			Help:      "Access token validations, by component and result.",
		}, []string{"component", "result"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Token store calls retried after a transient failure.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_purged_total",
			Help:      "Expired refresh tokens deleted by the sweeper.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tokensIssued, m.refreshOutcomes, m.revocations, m.validations, m.storeRetries, m.purged,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) TokenIssued(reason string) {
	if m != nil {
		m.tokensIssued.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RefreshOutcome(outcome string) {
	if m != nil {
		m.refreshOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Revoked(scope string, n int64) {
	if m != nil && n > 0 {
		m.revocations.WithLabelValues(scope).Add(float64(n))
	}
}

func (m *Metrics) Validation(component, result string) {
	if m != nil {
		m.validations.WithLabelValues(component, result).Inc()
	}
}

func (m *Metrics) StoreRetry() {
	if m != nil {
		m.storeRetries.Inc()
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil && n > 0 {
		m.purged.Add(float64(n))
	}
}
