// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

/*
Package api provides the HTTP surface of the catalog service.

Routing uses chi with a global middleware stack (request id, real IP,
access log, panic recovery, CORS, Prometheus instrumentation and an httprate
per-IP limit). Every JSON response uses the same envelope:

	{
	  "success": true,
	  "data": {...},
	  "error": {"code": "...", "message": "..."},
	  "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 3}
	}

Endpoints:

	GET    /api/v1/health                     liveness and dependency checks
	POST   /api/v1/sync                       start a manual sync (202, or 409 when running)
	GET    /api/v1/sync/status                last run summary and running flag
	GET    /api/v1/sync/progress/{runId}      progress aggregate of one run
	POST   /api/v1/sync/refresh/{owner}/{repo} re-sync one repository
	GET    /api/v1/logs?since=N               poll log entries after id N
	GET    /api/v1/logs/stream?since=N        websocket log stream
	POST   /api/v1/bootstrap                  first-visit bootstrap (per-client limited)
	GET    /api/v1/budget                     AI budget status
	POST   /api/v1/budget/reset               reset the AI budget
	GET    /api/v1/ratelimit/{client}         per-client limiter state
	DELETE /api/v1/ratelimit/{client}         clear a client's limiter
	GET    /api/v1/catalog                    list catalog entries
	GET    /metrics                           Prometheus metrics

Error Mapping:

  - sync already running: 409 CONFLICT
  - unknown run or repository: 404 NOT_FOUND
  - malformed input: 400 VALIDATION_ERROR
  - upstream degraded: 503 SERVICE_UNAVAILABLE
  - everything else: 500 INTERNAL_ERROR
*/
package api
