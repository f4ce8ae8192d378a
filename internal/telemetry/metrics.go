package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RecordsReceived counts feed records by stream (robot_status, statistics, counts)
	RecordsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chira",
			Name:      "feed_records_total",
			Help:      "Total number of records received from the status feed",
		},
		[]string{"stream"},
	)

	// DecodeFailures counts records that could not be decoded
	DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chira",
			Name:      "feed_decode_failures_total",
			Help:      "Total number of feed records that failed to decode",
		},
		[]string{"stream"},
	)

	// FeedErrors counts transport errors reported by the feed
	FeedErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chira",
			Name:      "feed_errors_total",
			Help:      "Total number of feed transport errors",
		},
	)

	// RobotOnline is 1 while the status feed is considered live
	RobotOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chira",
			Name:      "robot_online",
			Help:      "Whether the robot status feed is currently live (1) or stale (0)",
		},
	)

	// LivenessTransitions counts online/offline changes
	LivenessTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chira",
			Name:      "liveness_transitions_total",
			Help:      "Total number of liveness transitions",
		},
		[]string{"to"},
	)

	// StaleResultsDiscarded counts chart results dropped after a granularity switch
	StaleResultsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chira",
			Name:      "stale_results_discarded_total",
			Help:      "Total number of chart subscriptions or results discarded after a granularity switch",
		},
	)

	// WebSocketClients is the number of connected dashboard clients
	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chira",
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket dashboard clients",
		},
	)

	// ViewsPublished counts dashboard views pushed to clients
	ViewsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chira",
			Name:      "views_published_total",
			Help:      "Total number of dashboard views published",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		prometheus.DefaultRegisterer.Register(RecordsReceived)
		prometheus.DefaultRegisterer.Register(DecodeFailures)
		prometheus.DefaultRegisterer.Register(FeedErrors)
		prometheus.DefaultRegisterer.Register(RobotOnline)
		prometheus.DefaultRegisterer.Register(LivenessTransitions)
		prometheus.DefaultRegisterer.Register(StaleResultsDiscarded)
		prometheus.DefaultRegisterer.Register(WebSocketClients)
		prometheus.DefaultRegisterer.Register(ViewsPublished)
	})
}

// LivenessGauge mirrors liveness into RobotOnline.
type LivenessGauge struct{}

// ReportLiveness implements ports.LivenessReporter.
func (LivenessGauge) ReportLiveness(online bool) {
	if online {
		RobotOnline.Set(1)
		LivenessTransitions.WithLabelValues("online").Inc()
		return
	}
	RobotOnline.Set(0)
	LivenessTransitions.WithLabelValues("offline").Inc()
}
