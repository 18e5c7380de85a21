// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package bootstrap starts the first catalog sync when a visitor finds the
// catalog empty. It is safe to call from unauthenticated read paths: at most
// one bootstrap run is in flight, and attempts are spaced by a cooldown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
	syncpkg "github.com/tomtom215/starcatalog/internal/sync"
)

// DefaultCooldown is the minimum time between bootstrap attempts.
const DefaultCooldown = 10 * time.Minute

// Reasons returned in models.BootstrapResult.
const (
	ReasonHasData            = "has-data"
	ReasonSyncInProgress     = "sync-in-progress"
	ReasonTriggered          = "bootstrap-triggered"
	ReasonCatalogUnavailable = "catalog-unavailable"
	ReasonDisabled           = "disabled"
	reasonCooldownPrefix     = "cooldown-active-"
)

// CatalogCounter reports how many entries the catalog holds.
type CatalogCounter interface {
	CountCatalogEntries(ctx context.Context) (int, error)
}

// SyncStarter launches an asynchronous sync run. done must be invoked
// whenever a started run ends.
type SyncStarter interface {
	TriggerSyncWithCallback(trigger models.SyncTrigger, done func(run *models.SyncRun)) (string, error)
}

// Trigger is the Bootstrap Trigger.
type Trigger struct {
	counter  CatalogCounter
	starter  SyncStarter
	cooldown time.Duration
	enabled  bool

	inFlight atomic.Bool

	mu          sync.Mutex
	lastAttempt time.Time

	now func() time.Time
}

// New creates a Trigger.
func New(cfg *config.BootstrapConfig, counter CatalogCounter, starter SyncStarter) *Trigger {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Trigger{
		counter:  counter,
		starter:  starter,
		cooldown: cooldown,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// InFlight reports whether a bootstrap run is active.
func (t *Trigger) InFlight() bool {
	return t.inFlight.Load()
}

// LastAttempt returns the time of the last accepted attempt.
func (t *Trigger) LastAttempt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAttempt
}

// MaybeTrigger starts a bootstrap sync if the catalog is empty, no bootstrap
// is in flight and the cooldown has elapsed. It never blocks on the sync.
func (t *Trigger) MaybeTrigger(ctx context.Context) models.BootstrapResult {
	res := t.maybeTrigger(ctx)
	label := res.Reason
	if len(label) > len(reasonCooldownPrefix) && label[:len(reasonCooldownPrefix)] == reasonCooldownPrefix {
		label = "cooldown-active"
	}
	metrics.BootstrapDecisions.WithLabelValues(label).Inc()
	return res
}

func (t *Trigger) maybeTrigger(ctx context.Context) models.BootstrapResult {
	if !t.enabled {
		return models.BootstrapResult{Reason: ReasonDisabled}
	}

	count, err := t.counter.CountCatalogEntries(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Bootstrap check could not count catalog entries")
		return models.BootstrapResult{Reason: ReasonCatalogUnavailable}
	}
	if count > 0 {
		return models.BootstrapResult{Reason: ReasonHasData}
	}

	if t.inFlight.Load() {
		return models.BootstrapResult{Reason: ReasonSyncInProgress}
	}
	if reason, active := t.cooldownActive(); active {
		return models.BootstrapResult{Reason: reason}
	}

	if !t.inFlight.CompareAndSwap(false, true) {
		return models.BootstrapResult{Reason: ReasonSyncInProgress}
	}

	// Another caller may have finished a full attempt between the checks.
	t.mu.Lock()
	if reason, active := t.cooldownActiveLocked(); active {
		t.mu.Unlock()
		t.inFlight.Store(false)
		return models.BootstrapResult{Reason: reason}
	}
	previous := t.lastAttempt
	t.lastAttempt = t.now()
	t.mu.Unlock()

	runID, err := t.starter.TriggerSyncWithCallback(models.TriggerBootstrap, t.onRunFinished)
	if err != nil {
		t.mu.Lock()
		t.lastAttempt = previous
		t.mu.Unlock()
		t.inFlight.Store(false)
		if errors.Is(err, syncpkg.ErrSyncInProgress) {
			return models.BootstrapResult{Reason: ReasonSyncInProgress}
		}
		logging.Ctx(ctx).Error().Err(err).Msg("Bootstrap sync failed to start")
		return models.BootstrapResult{Reason: ReasonCatalogUnavailable}
	}

	logging.Ctx(ctx).Info().Str("run_id", runID).Msg("Bootstrap sync triggered")
	return models.BootstrapResult{Triggered: true, Reason: ReasonTriggered, RunID: runID}
}

// onRunFinished always clears inFlight, whatever the run outcome.
func (t *Trigger) onRunFinished(run *models.SyncRun) {
	t.inFlight.Store(false)

	if run == nil {
		logging.Warn().Msg("Bootstrap sync ended without a result")
		return
	}
	logging.Info().
		Str("run_id", run.RunID).
		Str("state", string(run.State)).
		Int("persisted", run.Persisted).
		Msg("Bootstrap sync finished")
}

func (t *Trigger) cooldownActive() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cooldownActiveLocked()
}

func (t *Trigger) cooldownActiveLocked() (string, bool) {
	if t.lastAttempt.IsZero() {
		return "", false
	}
	elapsed := t.now().Sub(t.lastAttempt)
	if elapsed >= t.cooldown {
		return "", false
	}
	remaining := int(math.Ceil((t.cooldown - elapsed).Seconds()))
	return fmt.Sprintf("%s%ds", reasonCooldownPrefix, remaining), true
}
