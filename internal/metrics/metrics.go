package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Applied status transitions.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doerline_transitions_total",
			Help: "Project status transitions applied",
		},
		[]string{"from", "to", "role"},
	)

	// Transitions refused by the status model, by rejection kind.
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doerline_transition_rejections_total",
			Help: "Project status transitions rejected",
		},
		[]string{"to", "kind"},
	)

	// Conditional writes that matched no row because another writer won.
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doerline_write_conflicts_total",
			Help: "Conditional project writes that lost a race",
		},
		[]string{"to"},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doerline_backend_retries_total",
			Help: "Operations retried after a retryable backend error",
		},
		[]string{"op", "class"},
	)

	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doerline_relay_deliveries_total",
			Help: "Events delivered by the outbox relay",
		},
		[]string{"sink", "status"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doerline_realtime_subscriptions",
			Help: "Live realtime subscriptions",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doerline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
