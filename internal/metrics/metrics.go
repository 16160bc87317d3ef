package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Chat metrics
	ChatRequestsTotal   *prometheus.CounterVec
	ChatRequestDuration *prometheus.HistogramVec

	// Upstream LLM metrics
	LLMCallsTotal   *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec

	// Store metrics
	SessionsActive prometheus.Gauge
	MessagesStored prometheus.Gauge

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ChatRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_requests_total",
				Help: "Total number of chat requests",
			},
			[]string{"transport", "status"},
		),
		ChatRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_request_duration_seconds",
				Help:    "Duration of chat requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),

		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_calls_total",
				Help: "Total number of upstream LLM calls",
			},
			[]string{"provider", "status"},
		),
		LLMCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_call_duration_seconds",
				Help:    "Duration of upstream LLM calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of sessions currently held in memory",
			},
		),
		MessagesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "messages_stored",
				Help: "Number of messages currently held in memory",
			},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limited_total",
				Help: "Total number of rate-limited requests",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(
		m.ChatRequestsTotal,
		m.ChatRequestDuration,
		m.LLMCallsTotal,
		m.LLMCallDuration,
		m.SessionsActive,
		m.MessagesStored,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetStoreSize updates the store gauges
func (m *Metrics) SetStoreSize(sessions, messages int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(sessions))
	m.MessagesStored.Set(float64(messages))
}
