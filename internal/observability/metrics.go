// README: Prometheus metrics for dispatch, sweeps, search, and the HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hailing"

var (
	RideRequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_created_total", Help: "Ride requests created"})
	AcceptAttempts      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accept_attempts_total", Help: "Ride accept attempts by outcome"},
		[]string{"outcome"},
	)
	RideRequestsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_expired_total", Help: "Ride requests moved to expired"})
	RideTransitions     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Committed ride state transitions"},
		[]string{"to"},
	)

	LocationUpserts       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_upserts_total", Help: "Driver location writes"})
	LocationsMarkedStale  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "locations_marked_stale_total", Help: "Location records flagged stale by the sweep"})
	LocationsPurged       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "locations_purged_total", Help: "Location records deleted by the sweep"})
	DriversAvailable      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_available", Help: "Available non-stale drivers at last listing"})
	NotificationsFailed   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Push deliveries that returned an error"},
		[]string{"event"},
	)
	SuggestionCacheLookup = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "suggestion_cache_lookups_total", Help: "Place suggestion cache lookups by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
