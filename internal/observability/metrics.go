package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	SessionEvents      *prometheus.CounterVec
	GenerationAttempts *prometheus.CounterVec
	GenerationLatency  prometheus.Histogram
	UploadFailures     prometheus.Counter
	ProviderErrors     *prometheus.CounterVec
	KioskResets        prometheus.Counter
	PollFailures       prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Kiosk session events by type.",
		}, []string{"event"}),
		GenerationAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Image generation attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "End-to-end latency of the generation pipeline in seconds.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120},
		}),
		UploadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Content store uploads that fell back to an embedded data URL.",
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		KioskResets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kiosk_resets_total",
			Help:      "Full kiosk controller resets triggered by a session change.",
		}),
		PollFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed session-state polls.",
		}),
	}
}

func (m *Metrics) ObserveGenerationLatency(d time.Duration) {
	m.GenerationLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
