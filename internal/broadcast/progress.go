// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package broadcast

import (
	"sync"

	"github.com/tomtom215/starcatalog/internal/models"
)

const defaultProgressRuns = 50

// ProgressStore keeps the latest progress snapshot per run. Updates replace
// the previous snapshot; the oldest run is forgotten past the limit.
type ProgressStore struct {
	mu    sync.RWMutex
	runs  map[string]models.Progress
	order []string
	limit int
}

// NewProgressStore creates a store holding at most limit runs.
func NewProgressStore(limit int) *ProgressStore {
	if limit <= 0 {
		limit = defaultProgressRuns
	}
	return &ProgressStore{
		runs:  make(map[string]models.Progress),
		limit: limit,
	}
}

// Update overwrites the snapshot for p.RunID.
func (s *ProgressStore) Update(p models.Progress) {
	if p.RunID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[p.RunID]; !ok {
		s.order = append(s.order, p.RunID)
		if len(s.order) > s.limit {
			evict := s.order[0]
			s.order = s.order[1:]
			delete(s.runs, evict)
		}
	}
	s.runs[p.RunID] = p
}

// Get returns the latest snapshot for runID.
func (s *ProgressStore) Get(runID string) (models.Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.runs[runID]
	return p, ok
}

// Latest returns the snapshot of the most recently started run.
func (s *ProgressStore) Latest() (models.Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return models.Progress{}, false
	}
	p, ok := s.runs[s.order[len(s.order)-1]]
	return p, ok
}
