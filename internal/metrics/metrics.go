// Package metrics provides Prometheus instrumentation for the room chat
// server. It exposes gauges for connections and room presence, counters for
// event and message throughput, and a histogram for hub event latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// RoomParticipants tracks the joined participants per room.
	RoomParticipants = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roomchat_room_participants",
		Help: "Current number of joined participants per room",
	}, []string{"room"})

	// EventsTotal counts client events handled by the hub, labeled by event type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_events_total",
		Help: "Total number of client events handled by the hub",
	}, []string{"type"})

	// EventLatency records hub handling time per event type in seconds.
	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomchat_event_latency_seconds",
		Help:    "Hub event handling latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	}, []string{"type"})

	// MessagesCommitted counts messages appended to room history.
	MessagesCommitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_messages_committed_total",
		Help: "Total number of messages committed to room history",
	}, []string{"room"})

	// FramesDropped counts outbound frames dropped because a connection's
	// send queue was full or already closed.
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_frames_dropped_total",
		Help: "Outbound frames dropped for slow or closed connections",
	})

	// RateLimited counts client events rejected by the rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_rate_limited_total",
		Help: "Client events rejected by the rate limiter",
	})

	// ModerationFlags counts messages flagged by the moderator, by reason.
	ModerationFlags = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_moderation_flags_total",
		Help: "Room messages flagged by the content filter",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomParticipants,
		EventsTotal,
		EventLatency,
		MessagesCommitted,
		FramesDropped,
		RateLimited,
		ModerationFlags,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
