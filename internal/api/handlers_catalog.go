// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/starcatalog/internal/models"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	Database      string  `json:"database"`
	SourceCircuit string  `json:"source_circuit,omitempty"`
	SyncRunning   bool    `json:"sync_running"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Health reports liveness. A failed database ping degrades the status but
// still answers 200 so orchestrators do not restart a working process.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Database:      "connected",
		SyncRunning:   h.sync.Status().Running,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if err := h.catalog.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
	}
	if h.breaker != nil {
		resp.SourceCircuit = h.breaker.BreakerState()
		if resp.SourceCircuit == "open" {
			resp.Status = "degraded"
		}
	}
	NewResponseWriter(w, r).Success(resp)
}

// Catalog lists every stored entry.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	entries, err := h.catalog.ListCatalogEntries(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if entries == nil {
		entries = []models.CatalogEntry{}
	}
	rw.SuccessWithCount(entries, len(entries))
}
