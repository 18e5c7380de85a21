// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package sync contains the Source Fetcher and the Sync Orchestrator.
//
// The fetcher wraps the repository-hosting API with a rate limiter, a
// circuit breaker and a retry policy, and degrades to empty results when
// the upstream is unavailable. The Manager drives full synchronization
// passes: it upserts every fetched repository by external id, refetches
// README content only for new or changed repositories, and isolates
// per-item failures so one bad repository never aborts a run.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/database"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
	"github.com/tomtom215/starcatalog/internal/validation"
)

const enrichmentUnavailableMsg = "enrichment temporarily unavailable"

var (
	// ErrSyncInProgress is returned when a run is already active.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrManagerStopping is returned for starts that arrive during Stop.
	ErrManagerStopping = errors.New("sync manager is stopping")
	// ErrSourceUnavailable is returned by RefreshOne when the upstream is degraded.
	ErrSourceUnavailable = errors.New("source temporarily unavailable")
	// ErrRepositoryNotFound is returned by RefreshOne for unknown repositories.
	ErrRepositoryNotFound = errors.New("repository not found upstream")
)

// CatalogStore is the persistence the Manager needs.
type CatalogStore interface {
	ListCatalogEntries(ctx context.Context) ([]models.CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, externalID int64) (*models.CatalogEntry, error)
	UpsertCatalogEntry(ctx context.Context, e *models.CatalogEntry) error
	MarkEntryFailed(ctx context.Context, externalID int64, message string, at time.Time) error
}

// Source is the upstream the Manager pulls from. *Fetcher implements it.
type Source interface {
	ListStarred(ctx context.Context, user string) FetchResult[[]models.RawItem]
	FetchEnrichment(ctx context.Context, fullName string) FetchResult[string]
	FetchSingle(ctx context.Context, fullName string) FetchResult[*models.RawItem]
}

// Reporter receives operator-facing log lines and progress snapshots.
type Reporter interface {
	Log(level models.LogLevel, runID, message string)
	UpdateProgress(p models.Progress)
}

type nopReporter struct{}

func (nopReporter) Log(models.LogLevel, string, string) {}
func (nopReporter) UpdateProgress(models.Progress)      {}

// Status is the aggregate view returned to pollers.
type Status struct {
	Running      bool            `json:"running"`
	CurrentRunID string          `json:"current_run_id,omitempty"`
	LastRun      *models.SyncRun `json:"last_run,omitempty"`
}

// itemOutcome classifies how one repository was processed.
type itemOutcome int

const (
	outcomePersisted itemOutcome = iota
	outcomeEnriched
	outcomeDeferred
)

// Manager is the Sync Orchestrator. Only one run may be active at a time;
// concurrent starts are rejected, not queued.
type Manager struct {
	user       string
	interval   time.Duration
	runOnStart bool
	startedRun atomic.Bool
	store      CatalogStore
	source     Source
	reporter   Reporter

	running atomic.Bool

	mu           sync.RWMutex
	currentRunID string
	lastRun      *models.SyncRun
	onCompleted  func(run models.SyncRun)

	now func() time.Time

	// scheduler lifecycle
	schedMu  sync.Mutex
	started  bool
	stopChan chan struct{}

	// wgMu orders wg.Add against the wg.Wait in Stop.
	wgMu     sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. reporter may be nil.
func NewManager(cfg *config.Config, store CatalogStore, source Source, reporter Reporter) *Manager {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Manager{
		user:       cfg.GitHub.User,
		interval:   cfg.Sync.Interval,
		runOnStart: cfg.Sync.RunOnStart,
		store:      store,
		source:     source,
		reporter:   reporter,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
}

// SetOnCompleted registers a callback invoked after every finished run,
// successful or not. It runs on the sync goroutine.
func (m *Manager) SetOnCompleted(fn func(run models.SyncRun)) {
	m.mu.Lock()
	m.onCompleted = fn
	m.mu.Unlock()
}

// Running reports whether a run is active.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// LastRun returns a copy of the most recent finished run, or nil.
func (m *Manager) LastRun() *models.SyncRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastRun == nil {
		return nil
	}
	run := *m.lastRun
	return &run
}

// Status returns the aggregate sync status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{Running: m.running.Load(), CurrentRunID: m.currentRunID}
	if m.lastRun != nil {
		run := *m.lastRun
		st.LastRun = &run
	}
	return st
}

// RunSync performs one full run on the calling goroutine.
func (m *Manager) RunSync(ctx context.Context, trigger models.SyncTrigger) (*models.SyncRun, error) {
	if !m.acquire(trigger) {
		return nil, ErrSyncInProgress
	}
	defer m.running.Store(false)
	return m.execute(ctx, uuid.NewString(), trigger), nil
}

// TriggerSync starts a run in the background and returns its id.
func (m *Manager) TriggerSync(trigger models.SyncTrigger) (string, error) {
	return m.TriggerSyncWithCallback(trigger, nil)
}

// TriggerSyncWithCallback starts a run in the background. done, if not nil,
// is always invoked when the run ends, whatever its outcome. It is not
// invoked when the start is rejected.
func (m *Manager) TriggerSyncWithCallback(trigger models.SyncTrigger, done func(run *models.SyncRun)) (string, error) {
	if !m.acquire(trigger) {
		return "", ErrSyncInProgress
	}

	if !m.track() {
		m.running.Store(false)
		logging.Warn().Str("trigger", string(trigger)).Msg("Sync manager stopping, rejecting start")
		return "", ErrManagerStopping
	}

	runID := uuid.NewString()
	m.mu.Lock()
	m.currentRunID = runID
	m.mu.Unlock()

	go func() {
		var run *models.SyncRun
		defer m.wg.Done()
		defer func() {
			if done != nil {
				done(run)
			}
		}()
		defer m.running.Store(false)

		// Runs are not cancelled mid-flight; they always reach a terminal state.
		run = m.execute(context.Background(), runID, trigger)
	}()
	return runID, nil
}

// track registers a goroutine with wg unless Stop is waiting.
func (m *Manager) track() bool {
	m.wgMu.Lock()
	defer m.wgMu.Unlock()
	if m.stopping {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Manager) acquire(trigger models.SyncTrigger) bool {
	if m.running.CompareAndSwap(false, true) {
		return true
	}
	metrics.SyncRejected.Inc()
	logging.Warn().Str("trigger", string(trigger)).Msg("Sync already in progress, rejecting start")
	m.reporter.Log(models.LogLevelWarn, "", fmt.Sprintf("Sync start (%s) rejected: a sync is already running", trigger))
	return false
}

// execute runs one pass. The caller holds the running flag.
func (m *Manager) execute(ctx context.Context, runID string, trigger models.SyncTrigger) (run *models.SyncRun) {
	ctx = logging.ContextWithRunID(ctx, runID)
	run = &models.SyncRun{
		RunID:     runID,
		State:     models.SyncStateRunning,
		Trigger:   trigger,
		StartedAt: m.now(),
		Unsynced:  []models.UnsyncedItem{},
	}

	m.mu.Lock()
	m.currentRunID = runID
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil && run.FinishedAt == nil {
			m.finish(ctx, run, fmt.Errorf("panic during sync: %v", r))
		}
	}()

	m.logf(runID, models.LogLevelInfo, "Sync started (trigger: %s)", trigger)
	m.progress(run, "fetching", 0, 0, 0)

	listed := m.source.ListStarred(ctx, m.user)
	if !listed.Succeeded && !listed.Degraded {
		m.finish(ctx, run, fmt.Errorf("failed to list starred repositories: %w", listed.Err))
		return run
	}
	run.Degraded = listed.Degraded
	items := listed.Value
	run.Fetched = len(items)

	if len(items) == 0 {
		if listed.Degraded {
			m.logf(runID, models.LogLevelWarn, "Starred list temporarily unavailable, nothing to process")
		} else {
			m.logf(runID, models.LogLevelInfo, "No starred repositories found")
		}
		m.finish(ctx, run, nil)
		return run
	}

	m.logf(runID, models.LogLevelInfo, "Fetched %d starred repositories", len(items))
	m.progress(run, "loading", 0, len(items), 0)

	existing, err := m.store.ListCatalogEntries(ctx)
	if err != nil {
		m.finish(ctx, run, fmt.Errorf("failed to load existing catalog: %w", err))
		return run
	}
	byID := make(map[int64]*models.CatalogEntry, len(existing))
	for i := range existing {
		byID[existing[i].ExternalID] = &existing[i]
	}

	for i := range items {
		raw := &items[i]
		id := *raw.ID
		prev := byID[id]

		_, outcome, err := m.processItem(ctx, raw, prev, false)
		if err != nil {
			m.recordFailure(ctx, run, raw, prev != nil, err)
		} else {
			run.Persisted++
			switch outcome {
			case outcomeEnriched:
				run.Enriched++
			case outcomeDeferred:
				run.Deferred++
			}
		}
		m.progress(run, "processing", i+1, len(items), len(run.Unsynced))
	}

	m.finish(ctx, run, nil)
	return run
}

// processItem merges one upstream item into its catalog entry, refetching
// README content when it is missing, when the upstream timestamp changed,
// or when force is set. A panic is converted to an error.
func (m *Manager) processItem(ctx context.Context, raw *models.RawItem, prev *models.CatalogEntry, force bool) (entry *models.CatalogEntry, outcome itemOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	entry = &models.CatalogEntry{SyncStatus: models.SyncStatusUnsynced}
	if prev != nil {
		*entry = *prev
	}
	previousUpdatedAt := entry.UpstreamUpdatedAt
	raw.ApplyTo(entry)

	attempt := m.now().UTC()
	entry.LastSyncAttempt = &attempt
	outcome = outcomePersisted

	needsEnrichment := force || !entry.HasEnrichment() || entry.UpstreamUpdatedAt != previousUpdatedAt
	if needsEnrichment {
		res := m.source.FetchEnrichment(ctx, entry.FullName)
		switch {
		case res.Succeeded:
			content := res.Value
			if entry.EnrichmentContent == nil || *entry.EnrichmentContent != content {
				entry.AISummary = nil
			}
			entry.EnrichmentContent = &content
			entry.SyncStatus = models.SyncStatusSynced
			entry.SyncErrorMessage = ""
			outcome = outcomeEnriched
		case res.Degraded:
			// Keep the stored timestamp so the next pass sees the change again.
			entry.UpstreamUpdatedAt = previousUpdatedAt
			entry.SyncStatus = models.SyncStatusUnsynced
			entry.SyncErrorMessage = enrichmentUnavailableMsg
			outcome = outcomeDeferred
		default:
			return nil, outcome, fmt.Errorf("enrichment: %w", res.Err)
		}
	} else {
		entry.SyncStatus = models.SyncStatusSynced
		entry.SyncErrorMessage = ""
	}

	if err := m.store.UpsertCatalogEntry(ctx, entry); err != nil {
		return nil, outcome, err
	}
	return entry, outcome, nil
}

func (m *Manager) recordFailure(ctx context.Context, run *models.SyncRun, raw *models.RawItem, exists bool, err error) {
	id := *raw.ID
	reason := err.Error()
	run.Unsynced = append(run.Unsynced, models.UnsyncedItem{ID: id, Name: raw.FullName, Reason: reason})

	logging.Ctx(ctx).Warn().Err(err).Int64("external_id", id).Str("repo", raw.FullName).Msg("Failed to sync repository")
	m.logf(run.RunID, models.LogLevelError, "Failed to sync %s: %s", raw.FullName, reason)

	if !exists {
		return
	}
	if markErr := m.store.MarkEntryFailed(ctx, id, reason, m.now()); markErr != nil {
		logging.Ctx(ctx).Error().Err(markErr).Int64("external_id", id).Msg("Failed to mark entry as failed")
	}
}

// finish moves run to its terminal state and publishes it.
func (m *Manager) finish(ctx context.Context, run *models.SyncRun, err error) {
	finished := m.now()
	run.FinishedAt = &finished
	duration := finished.Sub(run.StartedAt)

	if err != nil {
		run.State = models.SyncStateFailed
		run.Error = err.Error()
		logging.Ctx(ctx).Error().Err(err).Dur("duration", duration).Msg("Sync failed")
		m.logf(run.RunID, models.LogLevelError, "Sync failed: %s", run.Error)
		m.progress(run, "failed", run.Persisted+len(run.Unsynced), run.Fetched, len(run.Unsynced))
	} else {
		run.State = models.SyncStateCompleted
		logging.Ctx(ctx).Info().
			Int("fetched", run.Fetched).
			Int("persisted", run.Persisted).
			Int("enriched", run.Enriched).
			Int("deferred", run.Deferred).
			Int("unsynced", len(run.Unsynced)).
			Dur("duration", duration).
			Msg("Sync completed")
		m.logf(run.RunID, models.LogLevelInfo,
			"Sync completed: %d fetched, %d persisted, %d enriched, %d deferred, %d unsynced",
			run.Fetched, run.Persisted, run.Enriched, run.Deferred, len(run.Unsynced))
		m.progress(run, "completed", run.Fetched, run.Fetched, len(run.Unsynced))
	}

	metrics.RecordSyncRun(string(run.Trigger), string(run.State), duration,
		run.Persisted, run.Enriched, run.Deferred, len(run.Unsynced), err)

	snapshot := *run
	m.mu.Lock()
	m.lastRun = &snapshot
	m.currentRunID = ""
	callback := m.onCompleted
	m.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
}

// RefreshOne re-syncs a single repository by owner/repo, always refetching
// its README. It takes the same single-flight slot as a full run.
func (m *Manager) RefreshOne(ctx context.Context, fullName string) (*models.CatalogEntry, error) {
	if !validation.IsFullName(fullName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFullName, fullName)
	}
	if !m.acquire(models.TriggerManual) {
		return nil, ErrSyncInProgress
	}
	defer m.running.Store(false)

	res := m.source.FetchSingle(ctx, fullName)
	switch {
	case res.Degraded:
		return nil, ErrSourceUnavailable
	case !res.Succeeded:
		return nil, res.Err
	case res.Value == nil:
		return nil, ErrRepositoryNotFound
	}
	raw := res.Value

	prev, err := m.store.GetCatalogEntry(ctx, *raw.ID)
	if err != nil && !database.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load catalog entry: %w", err)
	}

	entry, outcome, err := m.processItem(ctx, raw, prev, true)
	if err != nil {
		if prev != nil {
			if markErr := m.store.MarkEntryFailed(ctx, *raw.ID, err.Error(), m.now()); markErr != nil {
				logging.Ctx(ctx).Error().Err(markErr).Msg("Failed to mark entry as failed")
			}
		}
		return nil, err
	}

	level := models.LogLevelInfo
	msg := fmt.Sprintf("Refreshed %s", raw.FullName)
	if outcome == outcomeDeferred {
		level = models.LogLevelWarn
		msg += " (" + enrichmentUnavailableMsg + ")"
	}
	m.logf("", level, "%s", msg)
	return entry, nil
}

// Start begins periodic sync runs. An interval of zero disables the
// scheduler; Start still succeeds.
func (m *Manager) Start(ctx context.Context) error {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if m.started {
		return fmt.Errorf("sync manager is already running")
	}
	m.started = true

	// Only the first Start runs immediately; supervisor restarts do not.
	if m.runOnStart && m.startedRun.CompareAndSwap(false, true) {
		if _, err := m.TriggerSync(models.TriggerScheduled); err != nil {
			logging.Debug().Err(err).Msg("Startup sync skipped")
		}
	}

	if m.interval <= 0 {
		logging.Info().Msg("Scheduled sync disabled (SYNC_INTERVAL=0)")
		return nil
	}

	if !m.track() {
		m.started = false
		return ErrManagerStopping
	}
	logging.Info().Dur("interval", m.interval).Msg("Starting sync scheduler")
	go m.syncLoop(ctx)
	return nil
}

// Stop halts the scheduler and waits for in-flight runs to finish.
func (m *Manager) Stop() error {
	m.schedMu.Lock()
	if !m.started {
		m.schedMu.Unlock()
		return nil
	}
	m.started = false
	close(m.stopChan)
	m.schedMu.Unlock()

	m.wgMu.Lock()
	m.stopping = true
	m.wgMu.Unlock()

	m.wg.Wait()

	m.wgMu.Lock()
	m.stopping = false
	m.wgMu.Unlock()

	m.schedMu.Lock()
	m.stopChan = make(chan struct{})
	m.schedMu.Unlock()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.schedMu.Lock()
	stop := m.stopChan
	m.schedMu.Unlock()

	for {
		select {
		case <-ticker.C:
			if _, err := m.TriggerSync(models.TriggerScheduled); err != nil {
				logging.Debug().Err(err).Msg("Scheduled sync skipped")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) logf(runID string, level models.LogLevel, format string, args ...interface{}) {
	m.reporter.Log(level, runID, fmt.Sprintf(format, args...))
}

func (m *Manager) progress(run *models.SyncRun, phase string, processed, total, failed int) {
	percent := 0.0
	switch {
	case phase == "completed" || phase == "failed":
		percent = 100
	case total > 0:
		percent = float64(processed) / float64(total) * 100
	}
	m.reporter.UpdateProgress(models.Progress{
		RunID:     run.RunID,
		Phase:     phase,
		State:     run.State,
		Percent:   percent,
		Processed: processed,
		Total:     total,
		Persisted: run.Persisted,
		Failed:    failed,
		UpdatedAt: m.now(),
	})
}
