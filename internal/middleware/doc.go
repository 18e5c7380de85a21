// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

/*
Package middleware provides HTTP middleware shared by the API router.

Key Components:

  - RequestID: per-request identifier, echoed in X-Request-ID and carried in
    the logging context and in chi's request-id context key
  - AccessLog: one structured zerolog line per request
  - PrometheusMetrics: request duration by method, chi route pattern and
    status

Middleware Stack:

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

All wrappers use chi's WrapResponseWriter, which keeps http.Hijacker
available so websocket upgrades pass through.
*/
package middleware
