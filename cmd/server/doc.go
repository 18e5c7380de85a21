// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

/*
Command server runs the starcatalog service.

Starcatalog keeps a local DuckDB catalog of the repositories a GitHub user has
starred. Each sync run lists the stars through a resilient fetcher (retry,
circuit breaker, rate limiter, fallback), upserts entries by their upstream
id and refreshes README content only for repositories that changed upstream.
Operator log lines stream live over a WebSocket and are kept in a bounded
ring buffer for replay.

# Process Layout

	starcatalog
	├── state-layer
	│   ├── budget-scheduler   (daily AI token rollover)
	│   ├── ratelimit-cleanup  (if RATELIMIT_ENABLED)
	│   └── catalog-cache-sweeper (if CATALOG_CACHE_TTL > 0)
	├── sync-layer
	│   ├── broadcast-hub      (log fan-out)
	│   └── sync-manager       (scheduled runs)
	└── api-layer
	    └── http-server

Initialization order:

 1. Configuration: koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog
 3. DuckDB catalog and BadgerDB budget store
 4. Broadcaster, budget guard, fetcher, sync manager
 5. Optional AI curation after each completed run
 6. Bootstrap trigger, rate limiter, HTTP router
 7. Supervisor tree

# Configuration

Common environment variables:

	GITHUB_USER=octocat            # required
	GITHUB_TOKEN=...               # optional, raises the upstream rate limit
	SYNC_INTERVAL=1h               # 0 disables scheduled runs
	DUCKDB_PATH=/data/starcatalog.duckdb
	BADGER_PATH=/data/budget
	AI_DAILY_TOKEN_BUDGET=200000
	CURATION_ENABLED=true
	CURATION_API_KEY=...

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains for
HTTP_SHUTDOWN_TIMEOUT, in-flight sync runs finish, and log subscribers
receive a "shutdown" close reason.
*/
package main
