package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "swiftride", Name: "matches_total", Help: "Rides matched to a driver"},
		[]string{"strategy"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swiftride",
		Name:      "match_latency_seconds",
		Help:      "Time spent searching and assigning a driver",
		Buckets:   prometheus.DefBuckets,
	})
	UnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftride", Name: "unmatched_total", Help: "Ride requests left without a driver",
	})
	DeclinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftride", Name: "declines_total", Help: "Driver decline responses",
	})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftride", Name: "drivers_online", Help: "Drivers currently online",
	})
	StaleLocationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftride", Name: "stale_location_updates_total", Help: "Location heartbeats dropped as out of order",
	})
	NotifyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "swiftride", Name: "notify_failures_total", Help: "Best-effort notification deliveries that failed"},
		[]string{"audience"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "swiftride", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swiftride",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
