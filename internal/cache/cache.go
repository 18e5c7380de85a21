// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package cache provides a small TTL cache and the catalog read cache built
// on it.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Evictions int64     `json:"evictions"`
	Keys      int       `json:"keys"`
	LastSweep time.Time `json:"last_sweep"`
}

// Cache is a thread-safe map with per-entry expiry. Expired entries are
// dropped lazily on Get and in bulk by Serve.
type Cache[V any] struct {
	name    string
	ttl     time.Duration
	sweep   time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]entry[V]
	stats   Stats
}

// New creates a cache whose entries live for ttl. name labels its metrics.
func New[V any](name string, ttl, sweepInterval time.Duration) *Cache[V] {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		sweep:   sweepInterval,
		now:     time.Now,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		c.record(true)
		return e.value, true
	}
	if ok {
		c.mu.Lock()
		// Re-check: a concurrent Set may have replaced it.
		if cur, still := c.entries[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
			metrics.CacheEvictions.WithLabelValues(c.name, "expired").Inc()
		}
		c.mu.Unlock()
	}
	c.record(false)
	var zero V
	return zero, false
}

// Set stores value under key with the cache's TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	if ok {
		c.stats.Evictions++
	}
	c.mu.Unlock()
	if ok {
		metrics.CacheEvictions.WithLabelValues(c.name, "invalidated").Inc()
	}
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry[V])
	c.stats.Evictions += int64(n)
	c.mu.Unlock()
	metrics.CacheEvictions.WithLabelValues(c.name, "invalidated").Add(float64(n))
}

// Stats returns a copy of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Keys = len(c.entries)
	return s
}

// HitRate returns hits as a percentage of lookups.
func (c *Cache[V]) HitRate() float64 {
	s := c.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Serve removes expired entries every sweep interval until ctx is done.
// It implements suture.Service.
func (c *Cache[V]) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := c.removeExpired(); n > 0 {
				logging.Debug().Str("cache", c.name).Int("removed", n).Msg("Expired cache entries removed")
			}
		}
	}
}

func (c *Cache[V]) String() string { return c.name + "-cache-sweeper" }

func (c *Cache[V]) removeExpired() int {
	now := c.now()
	c.mu.Lock()
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	c.stats.Evictions += int64(n)
	c.stats.LastSweep = now
	c.mu.Unlock()
	metrics.CacheEvictions.WithLabelValues(c.name, "expired").Add(float64(n))
	return n
}

func (c *Cache[V]) record(hit bool) {
	c.mu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(c.name, result).Inc()
}
