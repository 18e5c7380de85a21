// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/starcatalog/internal/models"
	"github.com/tomtom215/starcatalog/internal/ratelimit"
	syncpkg "github.com/tomtom215/starcatalog/internal/sync"
)

// SyncService is the sync orchestrator as seen by the API.
type SyncService interface {
	TriggerSync(trigger models.SyncTrigger) (string, error)
	Status() syncpkg.Status
	RefreshOne(ctx context.Context, fullName string) (*models.CatalogEntry, error)
}

// LogService exposes buffered log entries and run progress.
type LogService interface {
	GetSince(afterID int64) []models.LogEntry
	LastID() int64
	Progress(runID string) (models.Progress, bool)
	LatestProgress() (models.Progress, bool)
}

// Bootstrapper starts the first sync for an empty catalog.
type Bootstrapper interface {
	MaybeTrigger(ctx context.Context) models.BootstrapResult
}

// BudgetService reports and resets the AI budget.
type BudgetService interface {
	Status() models.BudgetStatus
	Reset() models.BudgetStatus
}

// CatalogReader lists stored entries and reports store health.
type CatalogReader interface {
	ListCatalogEntries(ctx context.Context) ([]models.CatalogEntry, error)
	Ping(ctx context.Context) error
}

// BreakerReporter reports the upstream circuit state.
type BreakerReporter interface {
	BreakerState() string
}

// Handler holds the dependencies of every endpoint.
type Handler struct {
	sync      SyncService
	logs      LogService
	bootstrap Bootstrapper
	budget    BudgetService
	catalog   CatalogReader
	limits    *ratelimit.Registry
	breaker   BreakerReporter
	stream    http.Handler

	startTime time.Time
	version   string
}

// Deps groups the constructor arguments of NewHandler.
type Deps struct {
	Sync      SyncService
	Logs      LogService
	Bootstrap Bootstrapper
	Budget    BudgetService
	Catalog   CatalogReader
	Limits    *ratelimit.Registry
	Breaker   BreakerReporter
	Stream    http.Handler
	Version   string
}

// NewHandler creates a handler from d.
func NewHandler(d Deps) *Handler {
	return &Handler{
		sync:      d.Sync,
		logs:      d.Logs,
		bootstrap: d.Bootstrap,
		budget:    d.Budget,
		catalog:   d.Catalog,
		limits:    d.Limits,
		breaker:   d.Breaker,
		stream:    d.Stream,
		startTime: time.Now(),
		version:   d.Version,
	}
}

// parseNonNegative reads an optional integer query parameter.
func parseNonNegative(r *http.Request, key string, def int64) (int64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
