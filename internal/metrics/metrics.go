package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelUp is 1 while the telemetry channel is open.
	ChannelUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterfeed_channel_up",
			Help: "1 when the telemetry channel is open, 0 otherwise",
		},
	)

	// ReconnectAttempt is the current reconnect attempt counter.
	ReconnectAttempt = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterfeed_reconnect_attempt",
			Help: "Current reconnect attempt counter (resets to 0 on open)",
		},
	)

	// DisconnectsTotal counts channel drops, including heartbeat failures.
	DisconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterfeed_disconnects_total",
			Help: "Total channel disconnects",
		},
	)

	// ExhaustionsTotal counts terminal reconnect-budget exhaustions.
	ExhaustionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterfeed_exhaustions_total",
			Help: "Total times the reconnect budget was exhausted",
		},
	)

	// ReducerMessagesTotal counts folded messages by kind.
	ReducerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterfeed_reducer_messages_total",
			Help: "Total messages folded by the stream reducer",
		},
		[]string{"kind"},
	)

	// ReducerDropsTotal counts dropped inputs by reason.
	ReducerDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterfeed_reducer_drops_total",
			Help: "Total reducer inputs dropped (stale_point, parse_error, unknown)",
		},
		[]string{"reason"},
	)

	// TrackedDevices is the number of devices with a live snapshot.
	TrackedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterfeed_tracked_devices",
			Help: "Devices currently present in the snapshot table",
		},
	)
)
