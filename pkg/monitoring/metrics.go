package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delivery_tracking"

var (
	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "location_updates_total",
		Help:      "Driver location samples durably recorded",
	})
	TripTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trip_transitions_total",
		Help:      "Trip lifecycle events committed",
	}, []string{"event"})
	TripEvaluationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trip_evaluation_failures_total",
		Help:      "Per-trip evaluations that failed during a location update",
	})
	ETASeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "eta_seconds",
		Help:      "Computed ETA values",
		Buckets:   []float64{60, 120, 300, 600, 900, 1800, 3600},
	})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache-aside lookups by result",
	}, []string{"result"})

	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Nearby driver query latency",
	})
	MatchPath = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_path_total",
		Help:      "Nearby driver queries by resolution path",
	}, []string{"path"})

	RealtimeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_connections",
		Help:      "Authenticated live connections",
	}, []string{"role"})
	RealtimePingsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_pings_dropped_total",
		Help:      "Driver pings rejected because the ingest queue was full",
	})

	EventDispatch = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_dispatch_total",
		Help:      "Outbound trip events handled per sink",
	}, []string{"sink", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests handled",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency distribution",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
