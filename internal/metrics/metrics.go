// ABOUTME: Prometheus metrics for the relay's submit, fan-out and replay paths
// ABOUTME: Registered on the default registry; exposed by the /metrics endpoint

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relay_messages_total", Help: "Messages durably appended to the log"},
	)
	DuplicateSubmissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relay_duplicate_submissions_total", Help: "Submissions absorbed by client-token dedup"},
	)
	ReplayedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relay_replayed_messages_total", Help: "Messages redelivered during reconnect replay"},
	)
	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relay_broadcast_dropped_total", Help: "Live deliveries dropped for slow sessions"},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "relay_active_sessions", Help: "Sessions currently attached to this worker"},
	)
	SubmitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "relay_submit_latency_ms", Help: "Submit latency from append to publish", Buckets: prometheus.LinearBuckets(5, 5, 20)},
	)
)

func Init() {
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(DuplicateSubmissionsTotal)
	prometheus.MustRegister(ReplayedMessagesTotal)
	prometheus.MustRegister(BroadcastDroppedTotal)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SubmitLatency)
}
