// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
	syncpkg "github.com/tomtom215/starcatalog/internal/sync"
	"github.com/tomtom215/starcatalog/internal/validation"
)

// TriggerSyncResponse is returned by POST /sync.
type TriggerSyncResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// SyncStatusResponse is returned by GET /sync/status.
type SyncStatusResponse struct {
	syncpkg.Status
	SourceCircuit string           `json:"source_circuit,omitempty"`
	Progress      *models.Progress `json:"progress,omitempty"`
}

// refreshRequest validates the path parameters of a targeted refresh.
type refreshRequest struct {
	FullName string `validate:"required,fullname"`
}

// TriggerSync starts a manual sync run in the background.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	runID, err := h.sync.TriggerSync(models.TriggerManual)
	if errors.Is(err, syncpkg.ErrSyncInProgress) {
		rw.Conflict("A sync is already in progress")
		return
	}
	if errors.Is(err, syncpkg.ErrManagerStopping) {
		rw.ServiceUnavailable("Sync manager is shutting down")
		return
	}
	if err != nil {
		rw.InternalError(err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("run_id", runID).Msg("Manual sync triggered")
	rw.Status(http.StatusAccepted, TriggerSyncResponse{RunID: runID, Message: "Sync started"})
}

// SyncStatus returns the running flag and the last run summary.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{Status: h.sync.Status()}
	if h.breaker != nil {
		resp.SourceCircuit = h.breaker.BreakerState()
	}
	if resp.CurrentRunID != "" {
		if p, ok := h.logs.Progress(resp.CurrentRunID); ok {
			resp.Progress = &p
		}
	} else if p, ok := h.logs.LatestProgress(); ok {
		// Idle: report how the most recent run ended.
		resp.Progress = &p
	}
	NewResponseWriter(w, r).Success(resp)
}

// SyncProgress returns the progress aggregate of one run.
func (h *Handler) SyncProgress(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	runID := chi.URLParam(r, "runId")

	p, ok := h.logs.Progress(runID)
	if !ok {
		rw.NotFound("No progress recorded for run " + runID)
		return
	}
	rw.Success(p)
}

// RefreshRepository re-syncs a single repository.
func (h *Handler) RefreshRepository(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req := refreshRequest{FullName: chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		var details interface{}
		if apiErr.Details != nil {
			details = apiErr.Details
		}
		rw.ValidationError(apiErr.Message, details)
		return
	}

	entry, err := h.sync.RefreshOne(r.Context(), req.FullName)
	switch {
	case err == nil:
		rw.Success(entry)
	case errors.Is(err, syncpkg.ErrSyncInProgress):
		rw.Conflict("A sync is already in progress")
	case errors.Is(err, syncpkg.ErrRepositoryNotFound):
		rw.NotFound("Repository " + req.FullName + " not found")
	case errors.Is(err, syncpkg.ErrInvalidFullName):
		rw.ValidationError(err.Error(), nil)
	case errors.Is(err, syncpkg.ErrSourceUnavailable):
		rw.ServiceUnavailable("Repository source temporarily unavailable")
	default:
		rw.InternalError(err)
	}
}
