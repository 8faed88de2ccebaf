// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battletrails_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "battletrails_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Feed
	FeedLookupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "battletrails_feed_lookup_failures_total",
			Help: "Route lookups that failed while ranking posts by distance",
		},
	)

	FeedFilterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "battletrails_feed_filter_duration_seconds",
			Help:    "Time spent applying feed filters",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"filters"},
	)

	// Places cache
	PlaceCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "battletrails_place_cache_hits_total",
			Help: "Place details served from memcached",
		},
	)

	PlaceCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "battletrails_place_cache_misses_total",
			Help: "Place details fetched from the maps API",
		},
	)

	// Realtime
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "battletrails_websocket_connections",
			Help: "Currently connected websocket clients",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battletrails_events_published_total",
			Help: "Domain events published to NATS",
		},
		[]string{"subject", "result"},
	)

	PushNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battletrails_push_notifications_total",
			Help: "Web push deliveries by result",
		},
		[]string{"result"},
	)
)

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordFeedFilter(filters string, duration time.Duration) {
	if filters == "" {
		filters = "none"
	}
	FeedFilterDuration.WithLabelValues(filters).Observe(duration.Seconds())
}

func RecordEventPublished(subject string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(subject, result).Inc()
}

func RecordPush(err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	PushNotifications.WithLabelValues(result).Inc()
}
