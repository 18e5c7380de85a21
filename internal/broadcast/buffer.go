// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package broadcast

import (
	"sync"
	"time"

	"github.com/tomtom215/starcatalog/internal/models"
)

// DefaultCapacity is the number of log entries kept for replay.
const DefaultCapacity = 1000

// LogBuffer is a fixed-capacity ring of log entries. IDs start at 1 and
// increase by one per append; the oldest entry is evicted when full.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []models.LogEntry
	head     int // index of the oldest entry
	size     int
	lastID   int64
	capacity int
}

// NewLogBuffer creates a buffer. A non-positive capacity uses DefaultCapacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LogBuffer{
		entries:  make([]models.LogEntry, capacity),
		capacity: capacity,
	}
}

// Append stores a new entry and returns it with its assigned id.
func (b *LogBuffer) Append(level models.LogLevel, runID, message string, ts time.Time) models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	entry := models.LogEntry{
		ID:        b.lastID,
		Timestamp: ts,
		Level:     level,
		Message:   message,
		RunID:     runID,
	}

	if b.size < b.capacity {
		b.entries[(b.head+b.size)%b.capacity] = entry
		b.size++
	} else {
		b.entries[b.head] = entry
		b.head = (b.head + 1) % b.capacity
	}
	return entry
}

// GetSince returns the retained entries with id greater than afterID, in
// ascending id order. Entries already evicted are not returned.
func (b *LogBuffer) GetSince(afterID int64) []models.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 || afterID >= b.lastID {
		return []models.LogEntry{}
	}

	// ids in the ring are contiguous, so the start offset can be computed.
	oldest := b.entries[b.head].ID
	skip := 0
	if afterID >= oldest {
		skip = int(afterID - oldest + 1)
	}

	out := make([]models.LogEntry, 0, b.size-skip)
	for i := skip; i < b.size; i++ {
		out = append(out, b.entries[(b.head+i)%b.capacity])
	}
	return out
}

// Len returns the number of retained entries.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// LastID returns the id of the newest entry, 0 if none.
func (b *LogBuffer) LastID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastID
}

// Capacity returns the configured capacity.
func (b *LogBuffer) Capacity() int {
	return b.capacity
}
