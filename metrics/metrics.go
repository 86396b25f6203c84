// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graphcall"

// Frame directions and outcomes
const (
	DirInbound  = "inbound"  // telephony -> speech model
	DirOutbound = "outbound" // speech model -> telephony

	OutcomeForwarded = "forwarded"
	OutcomeQueued    = "queued"
	OutcomeDropped   = "dropped"
	OutcomeEvicted   = "evicted"
)

var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_calls_total",
		Help:      "Inbound call webhooks by outcome.",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Call sessions currently relaying audio.",
	})

	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_frames_total",
		Help:      "Audio frames seen by the relay by direction and outcome.",
	}, []string{"direction", "outcome"})

	EnrichDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "enrich_duration_seconds",
		Help:      "Latency of graph context lookups.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	})

	EnrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrich_failures_total",
		Help:      "Graph context lookups that degraded to an empty context.",
	})

	TurnLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_log_failures_total",
		Help:      "Conversation turns the backend did not accept.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
