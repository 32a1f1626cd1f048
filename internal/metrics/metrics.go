// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthFailures counts rejected credentials by failure reason.
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "Bearer credentials rejected before streaming, by reason.",
	}, []string{"reason"})

	// ValidationFailures counts rejected request payloads by field.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_validation_failures_total",
		Help: "Request payloads rejected before streaming, by first failing field.",
	}, []string{"field"})

	// StreamsStarted counts streams that passed all pre-stream checks.
	StreamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_streams_started_total",
		Help: "Streams started, by resolved access tier.",
	}, []string{"tier"})

	// UpstreamErrors counts mid-stream provider failures by kind.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_errors_total",
		Help: "Upstream stream terminations delivered as in-band errors, by kind.",
	}, []string{"kind"})

	// FragmentsRelayed counts text fragments forwarded to clients.
	FragmentsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_fragments_relayed_total",
		Help: "Upstream text fragments forwarded to clients.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
