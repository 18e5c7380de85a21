// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/starcatalog/internal/models"
)

const catalogKey = "catalog:all"

// CatalogBackend is the persistent catalog store being cached.
type CatalogBackend interface {
	ListCatalogEntries(ctx context.Context) ([]models.CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, externalID int64) (*models.CatalogEntry, error)
	UpsertCatalogEntry(ctx context.Context, e *models.CatalogEntry) error
	MarkEntryFailed(ctx context.Context, externalID int64, message string, at time.Time) error
	UpdateAISummary(ctx context.Context, externalID int64, summary string) error
	ListUnsummarized(ctx context.Context, limit int) ([]models.CatalogEntry, error)
	MarkCurationAttempted(ctx context.Context, externalID int64, at time.Time) error
	CountCatalogEntries(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// CatalogCache serves full catalog listings from memory and drops the
// cached listing on every write that passes through it. All catalog writers
// must use it for the cache to stay coherent.
type CatalogCache struct {
	CatalogBackend

	cache *Cache[[]models.CatalogEntry]

	// mu orders invalidations against stores of freshly loaded listings.
	mu         sync.Mutex
	generation uint64
}

// NewCatalogCache wraps backend. A non-positive ttl returns a cache that
// always reads through.
func NewCatalogCache(backend CatalogBackend, ttl, sweepInterval time.Duration) *CatalogCache {
	c := &CatalogCache{CatalogBackend: backend}
	if ttl > 0 {
		c.cache = New[[]models.CatalogEntry]("catalog", ttl, sweepInterval)
	}
	return c
}

// Sweeper returns the expiry service, or nil when caching is disabled.
func (c *CatalogCache) Sweeper() *Cache[[]models.CatalogEntry] {
	return c.cache
}

// ListCatalogEntries returns the cached listing or loads it. Callers get
// their own slice.
func (c *CatalogCache) ListCatalogEntries(ctx context.Context) ([]models.CatalogEntry, error) {
	if c.cache == nil {
		return c.CatalogBackend.ListCatalogEntries(ctx)
	}
	if entries, ok := c.cache.Get(catalogKey); ok {
		return cloneEntries(entries), nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	entries, err := c.CatalogBackend.ListCatalogEntries(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// A write since the load started makes this listing stale.
	if gen == c.generation {
		c.cache.Set(catalogKey, cloneEntries(entries))
	}
	c.mu.Unlock()
	return entries, nil
}

// UpsertCatalogEntry writes through and invalidates the listing.
func (c *CatalogCache) UpsertCatalogEntry(ctx context.Context, e *models.CatalogEntry) error {
	defer c.Invalidate()
	return c.CatalogBackend.UpsertCatalogEntry(ctx, e)
}

// MarkEntryFailed writes through and invalidates the listing.
func (c *CatalogCache) MarkEntryFailed(ctx context.Context, externalID int64, message string, at time.Time) error {
	defer c.Invalidate()
	return c.CatalogBackend.MarkEntryFailed(ctx, externalID, message, at)
}

// UpdateAISummary writes through and invalidates the listing.
func (c *CatalogCache) UpdateAISummary(ctx context.Context, externalID int64, summary string) error {
	defer c.Invalidate()
	return c.CatalogBackend.UpdateAISummary(ctx, externalID, summary)
}

// Invalidate drops the cached listing.
func (c *CatalogCache) Invalidate() {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	c.generation++
	c.cache.Delete(catalogKey)
	c.mu.Unlock()
}

func cloneEntries(in []models.CatalogEntry) []models.CatalogEntry {
	if in == nil {
		return nil
	}
	out := make([]models.CatalogEntry, len(in))
	copy(out, in)
	return out
}
