package realtime

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bondy_ws_connections",
		Help: "Live websocket connections.",
	})

	metricOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bondy_online_users",
		Help: "Logical users with at least one live connection.",
	})

	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bondy_messages_total",
		Help: "Messages persisted, by conversation type.",
	}, []string{"type"})

	metricSeenUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bondy_seen_updates_total",
		Help: "Seen (read-receipt) bulk updates applied.",
	})

	metricFanoutDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bondy_fanout_dropped_total",
		Help: "Outbound envelopes dropped due to backpressure or closing connections.",
	})

	metricWireErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bondy_wire_errors_total",
		Help: "Error events emitted to clients, by code.",
	}, []string{"code"})
)

func observeWireError(code int) {
	metricWireErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}
