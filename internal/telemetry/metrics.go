/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EngineTicksTotal counts effective-clock ticks processed by the engine.
	EngineTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etherwave_engine_ticks_total",
		Help: "Effective clock ticks processed by the broadcast engine.",
	})

	// TrackTransitionsTotal counts playback state transitions by cause.
	TrackTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etherwave_track_transitions_total",
		Help: "Playback state transitions by cause.",
	}, []string{"cause"})

	// EngineIdle is 1 while the engine presents the idle fallback.
	EngineIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etherwave_engine_idle",
		Help: "Whether the engine is in the idle fallback state.",
	})

	// TimelineIntervals tracks the interval count of the live timeline.
	TimelineIntervals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etherwave_timeline_intervals",
		Help: "Playable intervals in the currently loaded timeline.",
	})

	// RepositoryErrorsTotal counts failed program repository round trips.
	RepositoryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etherwave_repository_errors_total",
		Help: "Failed program repository operations by kind.",
	}, []string{"operation"})

	// WSListeners tracks connected now-playing websocket clients.
	WSListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etherwave_ws_listeners",
		Help: "Connected now-playing websocket clients.",
	})

	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etherwave_api_requests_total",
		Help: "HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etherwave_api_request_duration_seconds",
		Help:    "HTTP API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etherwave_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
