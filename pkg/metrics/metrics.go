// Package metrics exposes the prometheus collectors shared by the
// core; the /metrics endpoint is wired in the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive is the number of live websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teamwire_connections_active",
		Help: "Number of live websocket connections.",
	})

	// UsersOnline is the number of users with at least one connection.
	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teamwire_users_online",
		Help: "Number of users with at least one live connection.",
	})

	// EventsFannedOut counts outbound events enqueued per connection.
	EventsFannedOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamwire_events_fanned_out_total",
		Help: "Outbound events enqueued to connections, by event type.",
	}, []string{"type"})

	// FanoutDrops counts events dropped because a connection's buffer
	// was full. Drops affect that connection only.
	FanoutDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamwire_fanout_drops_total",
		Help: "Outbound events dropped due to a full connection buffer.",
	})

	// MessagesPersisted counts messages durably written.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamwire_messages_persisted_total",
		Help: "Messages durably written to the store.",
	})

	// StoreErrors counts persistence failures surfaced to callers.
	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamwire_store_errors_total",
		Help: "Persistence failures surfaced to callers.",
	})

	// InboundEvents counts client events received on the duplex
	// connection, by type.
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamwire_inbound_events_total",
		Help: "Client events received over websocket, by event type.",
	}, []string{"type"})
)
