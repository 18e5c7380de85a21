// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/middleware"
)

// RouterConfig holds the HTTP-layer settings used by NewRouter.
type RouterConfig struct {
	CORSOrigins       []string
	RequestsPerMinute int
	// BootstrapLimited enables the per-client limiter on POST /bootstrap.
	BootstrapLimited bool
}

// RouterConfigFrom derives a RouterConfig from the application config.
func RouterConfigFrom(cfg *config.Config) RouterConfig {
	return RouterConfig{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		BootstrapLimited:  cfg.RateLimit.Enabled,
	}
}

// NewRouter configures all HTTP routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         86400,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestsPerMinute > 0 {
			r.Use(httprate.Limit(
				cfg.RequestsPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					WriteError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "Too many requests")
				}),
			))
		}
		r.Use(middleware.PrometheusMetrics)

		r.Get("/health", h.Health)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/", h.TriggerSync)
			r.Get("/status", h.SyncStatus)
			r.Get("/progress/{runId}", h.SyncProgress)
			r.Post("/refresh/{owner}/{repo}", h.RefreshRepository)
		})

		r.Get("/logs", h.Logs)
		r.Get("/logs/stream", h.LogStream)

		if cfg.BootstrapLimited && h.limits != nil {
			r.With(h.limits.Middleware("bootstrap", rejectLimited)).Post("/bootstrap", h.Bootstrap)
		} else {
			r.Post("/bootstrap", h.Bootstrap)
		}

		r.Get("/budget", h.BudgetStatus)
		r.Post("/budget/reset", h.BudgetReset)

		if h.limits != nil {
			r.Get("/ratelimit/{client}", h.RateLimitState)
			r.Delete("/ratelimit/{client}", h.RateLimitClear)
		}

		r.Get("/catalog", h.Catalog)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})

	return r
}

func rejectLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	NewResponseWriter(w, r).ErrorWithDetails(http.StatusTooManyRequests, ErrCodeTooManyRequests,
		"Too many bootstrap requests", map[string]string{"retry_after_seconds": strconv.Itoa(int(retryAfter.Seconds()) + 1)})
}
