// Package metrics provides Prometheus instrumentation for the chat
// server. It exposes gauges for connection and presence counts, counters
// for message and moderation throughput, and a latency histogram for
// message handling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineIdentities tracks the number of identities present (all statuses).
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_identities",
		Help: "Current number of identities with at least one connection",
	})

	// MessagesTotal counts messages processed, labeled by outcome:
	// "appended", "deduplicated", "filtered", "rate_limited", "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of send attempts processed",
	}, []string{"outcome"})

	// MessageLatency records send-pipeline latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_message_latency_seconds",
		Help:    "Send pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// StrikesTotal counts moderation strikes issued.
	StrikesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_strikes_total",
		Help: "Total number of moderation strikes issued",
	})

	// BansTotal counts bans applied, labeled "timed", "permanent", or "ip".
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_bans_total",
		Help: "Total number of bans applied",
	}, []string{"kind"})

	// ActiveGroups tracks the number of active group threads.
	ActiveGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_groups",
		Help: "Current number of active group threads",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineIdentities,
		MessagesTotal,
		MessageLatency,
		StrikesTotal,
		BansTotal,
		ActiveGroups,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
