// Package metrics provides Prometheus collectors for the Lyceum runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lyceum"

var (
	// ActiveConnections tracks currently registered websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Number of currently registered websocket connections",
		},
	)

	// OnlineUsers tracks distinct users with at least one connection.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "online_users",
			Help:      "Number of distinct users with at least one live connection",
		},
	)

	// AuthOutcomes counts authentication attempts by transport and outcome.
	AuthOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Authentication attempts by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	// RoomOperations counts join/leave requests by room type and outcome.
	RoomOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "room_operations_total",
			Help:      "Room join/leave operations by room type and outcome",
		},
		[]string{"op", "room_type", "outcome"},
	)

	// Dispatches counts dispatcher calls by kind (user, role, room, broadcast) and outcome.
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dispatches_total",
			Help:      "Dispatcher calls by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// DroppedDeliveries counts live deliveries dropped because a send queue was full or closing.
	DroppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "dropped_deliveries_total",
			Help:      "Live deliveries dropped under backpressure",
		},
	)

	// DrainBatchSize observes the size of pending-notification batches.
	DrainBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "drain_batch_size",
			Help:      "Number of notifications delivered per drain",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	// CacheInvalidations counts invalidation attempts by query kind and outcome.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations by query kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// CacheLookups counts cache-aside reads by query kind and result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache-aside lookups by query kind and result",
		},
		[]string{"kind", "result"},
	)

	// GradingOperations counts grading and enrollment writes by op and outcome.
	GradingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coursework",
			Name:      "operations_total",
			Help:      "Coursework write operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// GradingDuration tracks write-path latency.
	GradingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coursework",
			Name:      "operation_duration_seconds",
			Help:      "Coursework write operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// SetPresence publishes the registry's connection and user counts.
func SetPresence(connections, users int) {
	ActiveConnections.Set(float64(connections))
	OnlineUsers.Set(float64(users))
}

// RecordAuth records one authentication outcome.
func RecordAuth(transport, outcome string) {
	AuthOutcomes.WithLabelValues(transport, outcome).Inc()
}

// RecordRoomOp records one room join/leave.
func RecordRoomOp(op, roomType, outcome string) {
	RoomOperations.WithLabelValues(op, roomType, outcome).Inc()
}

// RecordDispatch records one dispatcher call.
func RecordDispatch(kind, outcome string) {
	Dispatches.WithLabelValues(kind, outcome).Inc()
}

// RecordDrop records one dropped live delivery.
func RecordDrop() {
	DroppedDeliveries.Inc()
}

// RecordDrain records the size of one drain batch.
func RecordDrain(n int) {
	DrainBatchSize.Observe(float64(n))
}

// RecordInvalidation records one cache invalidation.
func RecordInvalidation(kind, outcome string) {
	CacheInvalidations.WithLabelValues(kind, outcome).Inc()
}

// RecordCacheLookup records one cache-aside lookup.
func RecordCacheLookup(kind, result string) {
	CacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordCourseworkOp records one coursework write and its latency.
func RecordCourseworkOp(op, outcome string, started time.Time) {
	GradingOperations.WithLabelValues(op, outcome).Inc()
	GradingDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
