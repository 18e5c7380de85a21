// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package budget

import (
	"context"
	"time"

	"github.com/tomtom215/starcatalog/internal/logging"
)

// Scheduler periodically calls Guard.Rollover so usage resets at the day
// boundary even when no one consumes tokens.
type Scheduler struct {
	guard    *Guard
	interval time.Duration
}

// NewScheduler creates a scheduler. Non-positive intervals default to one
// minute.
func NewScheduler(guard *Guard, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{guard: guard, interval: interval}
}

// Serve runs the rollover loop until ctx is cancelled. It implements
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Starting AI budget rollover scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.guard.Rollover()

	for {
		select {
		case <-ticker.C:
			if s.guard.Rollover() {
				logging.Debug().Msg("Scheduled AI budget rollover applied")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) String() string { return "budget-scheduler" }
