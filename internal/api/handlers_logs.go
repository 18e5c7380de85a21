// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package api

import (
	"net/http"

	"github.com/tomtom215/starcatalog/internal/models"
)

// LogsResponse is returned by GET /logs.
type LogsResponse struct {
	Entries []models.LogEntry `json:"entries"`
	LastID  int64             `json:"last_id"`
}

// Logs returns buffered entries with id greater than ?since.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	since, ok := parseNonNegative(r, "since", 0)
	if !ok {
		rw.ValidationError("since must be a non-negative integer", map[string]interface{}{"field": "since"})
		return
	}

	entries := h.logs.GetSince(since)
	rw.SuccessWithCount(LogsResponse{Entries: entries, LastID: h.logs.LastID()}, len(entries))
}

// LogStream upgrades to a websocket log stream.
func (h *Handler) LogStream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		NewResponseWriter(w, r).ServiceUnavailable("Log streaming is not enabled")
		return
	}
	h.stream.ServeHTTP(w, r)
}
