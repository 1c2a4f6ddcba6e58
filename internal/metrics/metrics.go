// package metrics exposes Prometheus instrumentation for the sync engine, the catalog
// client and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync runs
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_sync_runs_total",
			Help: "Total number of full sync runs by final status",
		},
		[]string{"status"}, // "completed", "reauth_required", "failed"
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_sync_run_duration_seconds",
			Help:    "Duration of full sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	SyncPlaylistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_sync_playlists_total",
			Help: "Total number of curated playlist entries processed by outcome",
		},
		[]string{"type", "outcome"}, // outcome: "done", "not_found", "failed", "aborted"
	)

	SyncTracksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_sync_tracks_total",
			Help: "Total number of tracks iterated during syncs",
		},
	)

	SyncStaleLinksPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_sync_stale_links_pruned_total",
			Help: "Total number of playlist song links removed because the track left the playlist",
		},
	)

	AssociationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_artist_associations_total",
			Help: "Artist playlist association attempts by result",
		},
		[]string{"result"}, // "linked", "no_marker", "no_match", "ambiguous", "error"
	)

	// Catalog client
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_catalog_requests_total",
			Help: "Total number of catalog API requests",
		},
		[]string{"operation", "status_code"},
	)

	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_catalog_request_duration_seconds",
			Help:    "Catalog API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	CatalogRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_catalog_rate_limit_hits_total",
			Help: "Total number of 429 responses from the catalog API",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_catalog_circuit_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Credentials
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_token_refreshes_total",
			Help: "Total number of curator token refreshes by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordCatalogRequest records one catalog API round trip. A zero status means no response arrived.
func RecordCatalogRequest(operation string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	CatalogRequestsTotal.WithLabelValues(operation, code).Inc()
	CatalogRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAPIRequest records one HTTP API request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSyncRun records a finished sync run.
func RecordSyncRun(status string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(status).Inc()
	SyncRunDuration.Observe(duration.Seconds())
}
