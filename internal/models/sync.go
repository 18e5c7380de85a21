// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package models

import "time"

// SyncState is the lifecycle state of a full sync run.
type SyncState string

const (
	SyncStateIdle      SyncState = "IDLE"
	SyncStateRunning   SyncState = "RUNNING"
	SyncStateCompleted SyncState = "COMPLETED"
	SyncStateFailed    SyncState = "FAILED"
)

// SyncTrigger records what started a run.
type SyncTrigger string

const (
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerBootstrap SyncTrigger = "bootstrap"
)

// UnsyncedItem is a per-item failure recorded during a run.
type UnsyncedItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SyncRun summarizes one full synchronization pass.
type SyncRun struct {
	RunID      string         `json:"run_id"`
	State      SyncState      `json:"state"`
	Trigger    SyncTrigger    `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Fetched    int            `json:"fetched"`
	Persisted  int            `json:"persisted"`
	Enriched   int            `json:"enriched"`
	Deferred   int            `json:"deferred"`
	Unsynced   []UnsyncedItem `json:"unsynced"`
	// Degraded is set when the starred list came back from the fallback path.
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// Progress is the latest structured snapshot of a run. Each update replaces
// the previous snapshot for the same RunID.
type Progress struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	State     SyncState `json:"state"`
	Percent   float64   `json:"percent"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Persisted int       `json:"persisted"`
	Failed    int       `json:"failed"`
	UpdatedAt time.Time `json:"updated_at"`
}
