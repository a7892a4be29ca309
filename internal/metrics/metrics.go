// Package metrics holds the process-wide Prometheus metrics exported by
// the backend's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the core updates.
type Metrics struct {
	ConnectionsAccepted  *prometheus.CounterVec
	ConnectionsActive    *prometheus.GaugeVec
	HandshakeDuration    *prometheus.HistogramVec
	HandshakeFailures    *prometheus.CounterVec
	FramesDecoded        *prometheus.CounterVec
	FrameDecodeErrors    *prometheus.CounterVec
	CommandsHandled      *prometheus.CounterVec
	NotificationsHandled *prometheus.CounterVec
	SinkErrors           *prometheus.CounterVec
	DispatchDuration     *prometheus.HistogramVec
	DispatchFailures     *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_connections_accepted_total",
				Help: "Total sockets accepted by the listener supervisor",
			},
			[]string{"device_id"},
		),
		ConnectionsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mower_connections_active",
				Help: "Currently open device connections",
			},
			[]string{"device_id"},
		),
		HandshakeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mower_handshake_duration_seconds",
				Help:    "Time from HELLO to Authenticated",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"device_id"},
		),
		HandshakeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_handshake_failures_total",
				Help: "Handshakes that failed while handling HELLO or CLIENT_AUTH",
			},
			[]string{"device_id", "reason"},
		),
		FramesDecoded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_frames_decoded_total",
				Help: "Frames successfully decoded per connection",
			},
			[]string{"device_id"},
		),
		FrameDecodeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_frame_decode_errors_total",
				Help: "Frame decode failures that caused a buffer resync",
			},
			[]string{"device_id", "kind"},
		),
		CommandsHandled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_commands_handled_total",
				Help: "Application commands handled per command byte",
			},
			[]string{"device_id", "command"},
		),
		NotificationsHandled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_notifications_handled_total",
				Help: "Device notifications handled per notification type",
			},
			[]string{"device_id", "notification"},
		),
		SinkErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_sink_errors_total",
				Help: "Telemetry sink call failures, swallowed after logging",
			},
			[]string{"device_id", "call"},
		),
		DispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mower_dispatch_duration_seconds",
				Help:    "Time from dispatch() call to reply or error",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"device_id", "action"},
		),
		DispatchFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mower_dispatch_failures_total",
				Help: "Action dispatches that failed",
			},
			[]string{"device_id", "action", "reason"},
		),
	}
}
