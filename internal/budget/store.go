// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// stateKey is the BadgerDB key for the budget state.
const stateKey = "budget:ai:state"

// State is the persisted part of the budget.
type State struct {
	CurrentUsage        int64  `json:"current_usage"`
	ResetDate           string `json:"reset_date"`
	LowBudgetAlertArmed bool   `json:"low_budget_alert_armed"`
	ExtremelyLowArmed   bool   `json:"extremely_low_armed"`
	WarnFired           bool   `json:"warn_fired"`
}

// Store persists budget state across restarts.
type Store interface {
	// Load returns nil, nil when nothing has been saved.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store on an open BadgerDB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadger opens BadgerDB at path, or in memory when inMemory is set.
func OpenBadger(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// Save writes s under stateKey.
func (b *BadgerStore) Save(_ context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal budget state: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), data)
	})
}

// Load reads the saved state.
func (b *BadgerStore) Load(_ context.Context) (*State, error) {
	var state *State
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			state = &State{}
			return json.Unmarshal(val, state)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load budget state: %w", err)
	}
	return state, nil
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of s.
func (m *MemoryStore) Save(_ context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.state = &cp
	return nil
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	return &cp, nil
}
