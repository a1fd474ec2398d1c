// Package metrics exposes the pipeline's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the counters.
const (
	OutcomeOK       = "ok"
	OutcomeReplayed = "replayed"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	IntentsCreated prometheus.Counter
	Confirmations  *prometheus.CounterVec
	Downloads      *prometheus.CounterVec
	Migrations     *prometheus.CounterVec
	GatewayLatency prometheus.Histogram
	gatherer       prometheus.Gatherer
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IntentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultshop", Name: "intents_created_total",
			Help: "Order intents persisted.",
		}),
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultshop", Name: "payment_confirmations_total",
			Help: "Payment confirmations by outcome.",
		}, []string{"outcome"}),
		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultshop", Name: "downloads_total",
			Help: "Download requests by outcome.",
		}, []string{"outcome"}),
		Migrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultshop", Name: "storage_migrations_total",
			Help: "Per-asset storage migrations by outcome.",
		}, []string{"outcome"}),
		GatewayLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vaultshop", Name: "gateway_confirm_seconds",
			Help:    "Latency of payment gateway confirmations, retries included.",
			Buckets: prometheus.DefBuckets,
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// IntentCreated counts one persisted intent.
func (m *Metrics) IntentCreated() {
	if m != nil {
		m.IntentsCreated.Inc()
	}
}

// Confirmation counts a confirmation outcome.
func (m *Metrics) Confirmation(outcome string) {
	if m != nil {
		m.Confirmations.WithLabelValues(outcome).Inc()
	}
}

// Download counts a download outcome.
func (m *Metrics) Download(outcome string) {
	if m != nil {
		m.Downloads.WithLabelValues(outcome).Inc()
	}
}

// Migration counts a migration outcome.
func (m *Metrics) Migration(outcome string) {
	if m != nil {
		m.Migrations.WithLabelValues(outcome).Inc()
	}
}

// ObserveGateway records a gateway call duration in seconds.
func (m *Metrics) ObserveGateway(seconds float64) {
	if m != nil {
		m.GatewayLatency.Observe(seconds)
	}
}
