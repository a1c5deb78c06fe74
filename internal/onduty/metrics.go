package onduty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the handler's Prometheus collectors.
type Metrics struct {
	Events         *prometheus.CounterVec
	Duration       prometheus.Histogram
	UpstreamErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odvclock",
			Name:      "events_total",
			Help:      "Webhook events handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "odvclock",
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one webhook event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odvclock",
			Name:      "upstream_errors_total",
			Help:      "Failed calls to Openpath, Google or Slack.",
		}, []string{"service"}),
	}
}
