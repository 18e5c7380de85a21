// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package broadcast keeps the operator-facing sync log and fans it out to
// live subscribers.
//
// Entries are appended to a bounded ring buffer (LogBuffer) which supports
// resumable polling with GetSince. The Hub pushes every new entry to all
// registered subscriptions; a subscription that falls behind or goes idle
// is removed without affecting the others. Structured progress per sync
// run is kept separately in a ProgressStore.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
)

// Broadcaster combines the log buffer, the subscriber hub and the progress
// store behind one API.
type Broadcaster struct {
	buffer   *LogBuffer
	hub      *Hub
	progress *ProgressStore

	// mu keeps buffer order and publish order identical.
	mu  sync.Mutex
	now func() time.Time
	log zerolog.Logger
}

// New creates a Broadcaster from config. The hub must be started with
// Serve (usually by the supervisor) before subscriptions are accepted.
func New(cfg *config.BroadcastConfig) *Broadcaster {
	return &Broadcaster{
		buffer:   NewLogBuffer(cfg.Capacity),
		hub:      NewHub(cfg.SubscriberBuffer, cfg.IdleTimeout),
		progress: NewProgressStore(cfg.ProgressRuns),
		now:      time.Now,
		log:      logging.Component("broadcast"),
	}
}

// Hub returns the fan-out hub for supervision.
func (b *Broadcaster) Hub() *Hub { return b.hub }

// Log appends an entry, publishes it to subscribers and mirrors it to the
// process log.
func (b *Broadcaster) Log(level models.LogLevel, runID, message string) {
	b.mu.Lock()
	entry := b.buffer.Append(level, runID, message, b.now().UTC())
	b.hub.Publish(entry)
	b.mu.Unlock()

	metrics.BroadcastEntries.WithLabelValues(string(level)).Inc()

	var ev *zerolog.Event
	switch level {
	case models.LogLevelDebug:
		ev = b.log.Debug()
	case models.LogLevelWarn:
		ev = b.log.Warn()
	case models.LogLevelError:
		ev = b.log.Error()
	default:
		ev = b.log.Info()
	}
	if runID != "" {
		ev = ev.Str("run_id", runID)
	}
	ev.Int64("entry_id", entry.ID).Msg(message)
}

// Debugf logs a formatted DEBUG entry.
func (b *Broadcaster) Debugf(runID, format string, args ...interface{}) {
	b.Log(models.LogLevelDebug, runID, fmt.Sprintf(format, args...))
}

// Infof logs a formatted INFO entry.
func (b *Broadcaster) Infof(runID, format string, args ...interface{}) {
	b.Log(models.LogLevelInfo, runID, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted WARN entry.
func (b *Broadcaster) Warnf(runID, format string, args ...interface{}) {
	b.Log(models.LogLevelWarn, runID, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted ERROR entry.
func (b *Broadcaster) Errorf(runID, format string, args ...interface{}) {
	b.Log(models.LogLevelError, runID, fmt.Sprintf(format, args...))
}

// UpdateProgress replaces the progress snapshot for p.RunID.
func (b *Broadcaster) UpdateProgress(p models.Progress) {
	b.progress.Update(p)
}

// Progress returns the latest snapshot for runID.
func (b *Broadcaster) Progress(runID string) (models.Progress, bool) {
	return b.progress.Get(runID)
}

// LatestProgress returns the snapshot of the most recent run.
func (b *Broadcaster) LatestProgress() (models.Progress, bool) {
	return b.progress.Latest()
}

// GetSince returns retained entries with id greater than afterID.
func (b *Broadcaster) GetSince(afterID int64) []models.LogEntry {
	return b.buffer.GetSince(afterID)
}

// LastID returns the newest entry id.
func (b *Broadcaster) LastID() int64 {
	return b.buffer.LastID()
}

// Subscribe registers a live subscription.
func (b *Broadcaster) Subscribe(ctx context.Context) (*Subscription, error) {
	return b.hub.Subscribe(ctx)
}
