// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Feed assembly latency and candidate pool sizes
// - Exploration slot accounting
// - Engagement toggle outcomes and reconciliation sweeps
// - Bandit arm updates
// - WebSocket connections and counter fanout
// - HTTP endpoint latency and throughput

var (
	// Feed Metrics
	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsefeed_feed_request_duration_seconds",
			Help:    "Duration of feed page assembly in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	FeedCandidatePoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulsefeed_feed_candidate_pool_size",
			Help:    "Number of candidates considered per feed request",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 2500, 5000},
		},
	)

	FeedExploreSlots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_feed_slots_total",
			Help: "Feed slots served, partitioned by source (exploit/explore)",
		},
		[]string{"source"},
	)

	FeedEmptyPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsefeed_feed_empty_pages_total",
			Help: "Feed requests that produced an empty page",
		},
	)

	// Engagement Toggle Metrics
	ToggleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsefeed_toggle_duration_seconds",
			Help:    "Duration of engagement toggle transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ToggleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_toggle_outcomes_total",
			Help: "Engagement toggle outcomes",
		},
		[]string{"kind", "outcome"}, // outcome: activated, deactivated, rate_limited, error
	)

	ReconcileSweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_reconcile_sweep_runs_total",
			Help: "Counter reconciliation sweep runs",
		},
		[]string{"outcome"},
	)

	ReconcileDriftCorrected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsefeed_reconcile_drift_corrected_total",
			Help: "Items whose counters were corrected by the reconciliation sweep",
		},
	)

	// Bandit Metrics
	BanditArmUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_bandit_arm_updates_total",
			Help: "Bandit arm statistic updates from the interaction stream",
		},
		[]string{"signal"}, // success, failure
	)

	// Background Job Metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_job_runs_total",
			Help: "Background job executions",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsefeed_job_duration_seconds",
			Help:    "Background job execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"job"},
	)

	// WebSocket Metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsefeed_websocket_connections",
			Help: "Currently connected realtime clients",
		},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_websocket_messages_sent_total",
			Help: "Messages sent to realtime clients",
		},
		[]string{"type"},
	)

	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsefeed_websocket_messages_dropped_total",
			Help: "Messages dropped due to full client buffers",
		},
	)

	// HTTP Metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsefeed_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Event Stream Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_events_published_total",
			Help: "Events published to the interaction stream",
		},
		[]string{"topic", "outcome"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefeed_events_consumed_total",
			Help: "Events consumed from the interaction stream",
		},
		[]string{"topic", "outcome"},
	)
)

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// ObserveJob records a background job execution.
func ObserveJob(job string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	JobRuns.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
