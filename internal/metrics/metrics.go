// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream fetcher
	FetcherRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_requests_total",
			Help: "Upstream fetcher operations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success, degraded, not_found
	)

	FetcherRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_retries_total",
			Help: "Retry attempts made by the upstream fetcher",
		},
		[]string{"reason"}, // rate_limited, server_error, network
	)

	FetcherRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetcher_request_duration_seconds",
			Help:    "Duration of single upstream HTTP attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Sync runs
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full catalog sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_processed_total",
			Help: "Catalog items processed during sync runs",
		},
		[]string{"result"}, // persisted, enriched, deferred, failed
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Sync runs by trigger and final state",
		},
		[]string{"trigger", "state"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of whole-run sync errors",
		},
		[]string{"error_type"}, // upstream, database, other
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync",
		},
	)

	SyncRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_rejected_total",
			Help: "Sync start requests rejected because a run was already active",
		},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// AI token budget
	BudgetUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_budget_usage_tokens",
			Help: "Tokens consumed today",
		},
	)

	BudgetRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_budget_remaining_tokens",
			Help: "Tokens remaining today",
		},
	)

	BudgetDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_budget_decisions_total",
			Help: "tryConsume decisions",
		},
		[]string{"decision"}, // granted, denied
	)

	BudgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_budget_alerts_total",
			Help: "Budget threshold alerts fired",
		},
		[]string{"kind"},
	)

	CurationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_summaries_total",
			Help: "AI summary attempts by outcome",
		},
		[]string{"outcome"}, // stored, budget_exhausted, provider_error, store_error
	)

	// Read cache
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "In-memory cache lookups by result",
		},
		[]string{"cache", "result"}, // hit, miss
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries removed from in-memory caches",
		},
		[]string{"cache", "reason"}, // expired, invalidated
	)

	// Bootstrap trigger
	BootstrapDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bootstrap_decisions_total",
			Help: "Bootstrap trigger outcomes by reason",
		},
		[]string{"reason"},
	)

	// Broadcaster and streaming
	BroadcastEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_log_entries_total",
			Help: "Log entries appended to the broadcast buffer",
		},
		[]string{"level"},
	)

	BroadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Currently registered log subscribers",
		},
	)

	BroadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_subscribers_removed_total",
			Help: "Subscribers removed by the hub",
		},
		[]string{"reason"}, // slow, idle, closed
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	// Per-client limiter
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// HTTP API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ErrorClassifier lets callers tag errors with a metrics category.
type ErrorClassifier interface {
	MetricsCategory() string
}

// RecordSyncRun records the outcome of one sync run.
func RecordSyncRun(trigger, state string, duration time.Duration, persisted, enriched, deferred, failed int, err error) {
	SyncDuration.Observe(duration.Seconds())
	SyncRuns.WithLabelValues(trigger, state).Inc()
	SyncItemsProcessed.WithLabelValues("persisted").Add(float64(persisted))
	SyncItemsProcessed.WithLabelValues("enriched").Add(float64(enriched))
	SyncItemsProcessed.WithLabelValues("deferred").Add(float64(deferred))
	SyncItemsProcessed.WithLabelValues("failed").Add(float64(failed))
	if err != nil {
		SyncErrors.WithLabelValues(classifyError(err)).Inc()
		return
	}
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}

func classifyError(err error) string {
	var c ErrorClassifier
	if errors.As(err, &c) {
		return c.MetricsCategory()
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database"), strings.Contains(msg, "duckdb"):
		return "database"
	case strings.Contains(msg, "upstream"):
		return "upstream"
	default:
		return "other"
	}
}

// SetBudget mirrors the budget guard's counters.
func SetBudget(usage, remaining int64) {
	BudgetUsage.Set(float64(usage))
	BudgetRemaining.Set(float64(remaining))
}
