// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used as the `reason` label on DroppedEvents.
const (
	DropReasonSendBufferFull = "send_buffer_full"
	DropReasonRateLimited    = "rate_limited"
	DropReasonUnjoinedChat   = "unjoined_chat"
	DropReasonBadPayload     = "bad_payload"
)

const namespace = "signal_relay"

// Metrics bundles every collector on a private registry so tests can create
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal prometheus.Counter
	DisconnectsTotal prometheus.Counter
	JoinsTotal       prometheus.Counter
	SignalsTotal     *prometheus.CounterVec
	ChatTotal        prometheus.Counter
	DroppedEvents    *prometheus.CounterVec

	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "WebSocket connections accepted.",
		}),
		DisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "WebSocket connections closed.",
		}),
		JoinsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_joins_total",
			Help:      "join-room events processed.",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_relayed_total",
			Help:      "Point-to-point signaling payloads relayed.",
		}, []string{"kind"}),
		ChatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages broadcast to rooms.",
		}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Inbound or outbound events dropped.",
		}, []string{"reason"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently open WebSocket connections.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with at least one member.",
		}),
	}

	m.registry.MustRegister(
		m.ConnectionsTotal,
		m.DisconnectsTotal,
		m.JoinsTotal,
		m.SignalsTotal,
		m.ChatTotal,
		m.DroppedEvents,
		m.ActiveConnections,
		m.ActiveRooms,
	)
	return m
}

// Handler exposes the registry in Prometheus' text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
