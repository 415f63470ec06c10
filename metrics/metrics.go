// Package metrics exposes the Prometheus instruments the relay reports on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// ActiveConnections gauges currently open websocket connections.
	ActiveConnections prometheus.Gauge

	// EventsPublished counts events published to user topics.
	// Labels: type (receive_message, user_online, ...)
	EventsPublished *prometheus.CounterVec

	// Commands counts websocket commands received from clients.
	// Labels: command, status (ok|error)
	Commands *prometheus.CounterVec

	// PushesSent counts web push deliveries.
	// Labels: status (ok|error|gone)
	PushesSent *prometheus.CounterVec
}

// New creates and registers the instruments on the default registry. Call it
// once at startup; the promhttp handler serves the result.
func New() *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_active_connections",
			Help: "Number of currently open websocket connections",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_events_published_total",
			Help: "Total events published to user topics by type",
		}, []string{"type"}),

		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_ws_commands_total",
			Help: "Total websocket commands received by command and status",
		}, []string{"command", "status"}),

		PushesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_web_pushes_total",
			Help: "Total web push notifications attempted by status",
		}, []string{"status"}),
	}
}
