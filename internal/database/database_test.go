// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
)

// testDBSemaphore serializes DuckDB instances; parallel in-memory databases
// in one process exhaust memory quickly on CI runners.
var testDBSemaphore = make(chan struct{}, 1)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 1})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestUpsertIsIdempotentByExternalID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry := &models.CatalogEntry{
		ExternalID:        101,
		Name:              "hello",
		FullName:          "octo/hello",
		URL:               "https://github.com/octo/hello",
		Topics:            []string{"go", "cli"},
		UpstreamUpdatedAt: "2024-01-01",
	}
	if err := db.UpsertCatalogEntry(ctx, entry); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	created := entry.CreatedAt

	updated := &models.CatalogEntry{
		ExternalID:        101,
		Name:              "hello-renamed",
		FullName:          "octo/hello-renamed",
		PopularityCount:   99,
		Topics:            []string{"go"},
		EnrichmentContent: strPtr("# Hello"),
		UpstreamUpdatedAt: "2024-02-01",
		SyncStatus:        models.SyncStatusSynced,
		CreatedAt:         created,
	}
	if err := db.UpsertCatalogEntry(ctx, updated); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := db.CountCatalogEntries(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 row, got %d", n)
	}

	got, err := db.GetCatalogEntry(ctx, 101)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "hello-renamed" || got.PopularityCount != 99 {
		t.Errorf("expected updated fields, got %+v", got)
	}
	if !reflect.DeepEqual(got.Topics, []string{"go"}) {
		t.Errorf("expected topics [go], got %v", got.Topics)
	}
	if got.EnrichmentContent == nil || *got.EnrichmentContent != "# Hello" {
		t.Errorf("expected enrichment content, got %v", got.EnrichmentContent)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("expected SYNCED, got %s", got.SyncStatus)
	}
	if !got.CreatedAt.Equal(created.Truncate(time.Microsecond)) {
		t.Errorf("expected created_at preserved %v, got %v", created, got.CreatedAt)
	}
}

func TestMarkEntryFailed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.MarkEntryFailed(ctx, 5, "boom", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing entry, got %v", err)
	}

	if err := db.UpsertCatalogEntry(ctx, &models.CatalogEntry{ExternalID: 5, Name: "x", FullName: "o/x"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.MarkEntryFailed(ctx, 5, "boom", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := db.GetCatalogEntryByFullName(ctx, "O/X")
	if err != nil {
		t.Fatalf("get by full name: %v", err)
	}
	if got.SyncStatus != models.SyncStatusFailed || got.SyncErrorMessage != "boom" {
		t.Errorf("expected FAILED/boom, got %s/%s", got.SyncStatus, got.SyncErrorMessage)
	}
	if got.LastSyncAttempt == nil {
		t.Error("expected last sync attempt to be set")
	}
}

func TestListUnsummarizedAndUpdateSummary(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entries := []*models.CatalogEntry{
		{ExternalID: 1, Name: "a", FullName: "o/a", PopularityCount: 5, EnrichmentContent: strPtr("readme a")},
		{ExternalID: 2, Name: "b", FullName: "o/b", PopularityCount: 10, EnrichmentContent: strPtr("readme b")},
		{ExternalID: 3, Name: "c", FullName: "o/c", PopularityCount: 50},
	}
	for _, e := range entries {
		if err := db.UpsertCatalogEntry(ctx, e); err != nil {
			t.Fatalf("upsert %d: %v", e.ExternalID, err)
		}
	}

	list, err := db.ListUnsummarized(ctx, 10)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(list) != 2 || list[0].ExternalID != 2 {
		t.Fatalf("expected [2 1], got %+v", list)
	}

	if err := db.UpdateAISummary(ctx, 2, "summary"); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	list, err = db.ListUnsummarized(ctx, 10)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(list) != 1 || list[0].ExternalID != 1 {
		t.Errorf("expected only entry 1 left, got %+v", list)
	}

	all, err := db.ListCatalogEntries(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ExternalID != 3 {
		t.Errorf("expected 3 entries ordered by popularity, got %+v", all)
	}
}

func TestListUnsummarizedSkipsEmptyAndRotatesAttempts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Twenty popular entries with an empty README and no description, and
	// one unpopular entry with real content.
	for i := int64(1); i <= 20; i++ {
		e := &models.CatalogEntry{
			ExternalID:        i,
			Name:              fmt.Sprintf("empty%d", i),
			FullName:          fmt.Sprintf("o/empty%d", i),
			PopularityCount:   1000 + int(i),
			EnrichmentContent: strPtr(""),
		}
		if err := db.UpsertCatalogEntry(ctx, e); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	described := &models.CatalogEntry{ExternalID: 30, Name: "desc", FullName: "o/desc", Description: "a tool", PopularityCount: 500, EnrichmentContent: strPtr("  ")}
	good := &models.CatalogEntry{ExternalID: 40, Name: "good", FullName: "o/good", PopularityCount: 1, EnrichmentContent: strPtr("readme")}
	for _, e := range []*models.CatalogEntry{described, good} {
		if err := db.UpsertCatalogEntry(ctx, e); err != nil {
			t.Fatalf("upsert %d: %v", e.ExternalID, err)
		}
	}

	list, err := db.ListUnsummarized(ctx, 20)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(list) != 2 || list[0].ExternalID != 30 || list[1].ExternalID != 40 {
		t.Fatalf("expected [30 40], got %+v", list)
	}

	// A failed attempt moves the entry behind untried ones.
	if err := db.MarkCurationAttempted(ctx, 30, time.Now()); err != nil {
		t.Fatalf("mark attempted: %v", err)
	}
	list, err = db.ListUnsummarized(ctx, 1)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(list) != 1 || list[0].ExternalID != 40 {
		t.Fatalf("expected untried entry 40 first, got %+v", list)
	}

	// New content clears the attempt mark.
	described.EnrichmentContent = strPtr("new readme")
	if err := db.UpsertCatalogEntry(ctx, described); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.MarkCurationAttempted(ctx, 40, time.Now()); err != nil {
		t.Fatalf("mark attempted: %v", err)
	}
	list, err = db.ListUnsummarized(ctx, 1)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(list) != 1 || list[0].ExternalID != 30 {
		t.Errorf("expected entry 30 back at the front, got %+v", list)
	}

	if err := db.MarkCurationAttempted(ctx, 999, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsTransactionConflict(t *testing.T) {
	t.Parallel()

	if !isTransactionConflict(errors.New("TransactionContext Error: Transaction conflict: cannot update")) {
		t.Error("expected conflict to be detected")
	}
	if isTransactionConflict(errors.New("syntax error")) || isTransactionConflict(nil) {
		t.Error("expected non-conflict errors to be ignored")
	}
}
