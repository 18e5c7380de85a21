// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/starcatalog/internal/logging"
)

// Bootstrap starts the first sync if the catalog is empty. It always answers
// 200 with the decision; the caller polls sync status for the outcome.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	res := h.bootstrap.MaybeTrigger(r.Context())
	NewResponseWriter(w, r).Success(res)
}

// BudgetStatus returns the AI budget snapshot.
func (h *Handler) BudgetStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.budget.Status())
}

// BudgetReset zeroes usage and re-arms alerts.
func (h *Handler) BudgetReset(w http.ResponseWriter, r *http.Request) {
	st := h.budget.Reset()
	logging.Ctx(r.Context()).Info().Msg("AI budget reset via API")
	NewResponseWriter(w, r).Success(st)
}

// RateLimitState returns the limiter state of one client.
func (h *Handler) RateLimitState(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.limits.State(chi.URLParam(r, "client")))
}

// RateLimitClear forgets one client's limiter.
func (h *Handler) RateLimitClear(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	cleared := h.limits.Clear(client)
	logging.Ctx(r.Context()).Info().Str("client", client).Bool("cleared", cleared).Msg("Rate limiter cleared via API")
	NewResponseWriter(w, r).Success(map[string]interface{}{"client": client, "cleared": cleared})
}
