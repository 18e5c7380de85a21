// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
)

const catalogColumns = `external_id, name, full_name, description, url, homepage,
	primary_language, is_fork, popularity_count, topics, enrichment_content,
	ai_summary, upstream_updated_at, sync_status, last_sync_attempt,
	sync_error_message, created_at, updated_at`

// UpsertCatalogEntry inserts the entry or updates the existing row with the
// same external_id. created_at is preserved on update.
func (db *DB) UpsertCatalogEntry(ctx context.Context, e *models.CatalogEntry) error {
	topics, err := json.Marshal(nonNilTopics(e.Topics))
	if err != nil {
		return fmt.Errorf("failed to encode topics for %d: %w", e.ExternalID, err)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.SyncStatus == "" {
		e.SyncStatus = models.SyncStatusUnsynced
	}

	query := `INSERT INTO catalog_entries (` + catalogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			homepage = EXCLUDED.homepage,
			primary_language = EXCLUDED.primary_language,
			is_fork = EXCLUDED.is_fork,
			popularity_count = EXCLUDED.popularity_count,
			topics = EXCLUDED.topics,
			enrichment_content = EXCLUDED.enrichment_content,
			ai_summary = EXCLUDED.ai_summary,
			upstream_updated_at = EXCLUDED.upstream_updated_at,
			sync_status = EXCLUDED.sync_status,
			last_sync_attempt = EXCLUDED.last_sync_attempt,
			sync_error_message = EXCLUDED.sync_error_message,
			curation_attempted_at = CASE
				WHEN enrichment_content IS NOT DISTINCT FROM EXCLUDED.enrichment_content
				 AND description IS NOT DISTINCT FROM EXCLUDED.description
				THEN curation_attempted_at ELSE NULL END,
			updated_at = EXCLUDED.updated_at`

	args := []interface{}{
		e.ExternalID, e.Name, e.FullName, e.Description, e.URL, e.Homepage,
		e.PrimaryLanguage, e.IsFork, e.PopularityCount, string(topics),
		nullString(e.EnrichmentContent), nullString(e.AISummary),
		e.UpstreamUpdatedAt, string(e.SyncStatus), nullTime(e.LastSyncAttempt),
		e.SyncErrorMessage, e.CreatedAt, e.UpdatedAt,
	}

	return db.execWithConflictRetry(ctx, "upsert catalog entry", query, args...)
}

// MarkEntryFailed flags an existing entry as FAILED without touching its
// upstream fields. Returns ErrNotFound if the entry does not exist.
func (db *DB) MarkEntryFailed(ctx context.Context, externalID int64, message string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE catalog_entries
		 SET sync_status = ?, sync_error_message = ?, last_sync_attempt = ?, updated_at = ?
		 WHERE external_id = ?`,
		string(models.SyncStatusFailed), message, at.UTC(), time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d failed: %w", externalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAISummary stores the AI-generated summary for an entry.
func (db *DB) UpdateAISummary(ctx context.Context, externalID int64, summary string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE catalog_entries SET ai_summary = ?, updated_at = ? WHERE external_id = ?`,
		summary, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to update summary for %d: %w", externalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCatalogEntries returns the number of rows in the catalog.
func (db *DB) CountCatalogEntries(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count catalog entries: %w", err)
	}
	return n, nil
}

// ListCatalogEntries returns every entry ordered by popularity.
func (db *DB) ListCatalogEntries(ctx context.Context) ([]models.CatalogEntry, error) {
	return db.queryEntries(ctx,
		`SELECT `+catalogColumns+` FROM catalog_entries ORDER BY popularity_count DESC, external_id`)
}

// ListUnsummarized returns enriched entries without an AI summary that have
// something to summarize. Entries never attempted come first, then the
// least recently attempted, so repeated failures rotate to the back.
func (db *DB) ListUnsummarized(ctx context.Context, limit int) ([]models.CatalogEntry, error) {
	return db.queryEntries(ctx,
		`SELECT `+catalogColumns+` FROM catalog_entries
		 WHERE enrichment_content IS NOT NULL AND ai_summary IS NULL
		   AND (trim(enrichment_content) <> '' OR coalesce(trim(description), '') <> '')
		 ORDER BY curation_attempted_at ASC NULLS FIRST, popularity_count DESC, external_id
		 LIMIT ?`, limit)
}

// MarkCurationAttempted records a summary attempt that did not produce a
// summary. It does not bump updated_at.
func (db *DB) MarkCurationAttempted(ctx context.Context, externalID int64, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE catalog_entries SET curation_attempted_at = ? WHERE external_id = ?`,
		at.UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to mark curation attempt for %d: %w", externalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCatalogEntry returns one entry by external id.
func (db *DB) GetCatalogEntry(ctx context.Context, externalID int64) (*models.CatalogEntry, error) {
	return db.queryOne(ctx,
		`SELECT `+catalogColumns+` FROM catalog_entries WHERE external_id = ?`, externalID)
}

// GetCatalogEntryByFullName returns one entry by owner/repo, case-insensitively.
func (db *DB) GetCatalogEntryByFullName(ctx context.Context, fullName string) (*models.CatalogEntry, error) {
	return db.queryOne(ctx,
		`SELECT `+catalogColumns+` FROM catalog_entries WHERE lower(full_name) = ?`,
		strings.ToLower(fullName))
}

func (db *DB) queryOne(ctx context.Context, query string, args ...interface{}) (*models.CatalogEntry, error) {
	entries, err := db.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...interface{}) ([]models.CatalogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog entries: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (*models.CatalogEntry, error) {
	var (
		e                                models.CatalogEntry
		description, url, homepage, lang sql.NullString
		topics, upstream, status, errMsg sql.NullString
		enrichment, summary              sql.NullString
		lastAttempt                      sql.NullTime
	)
	err := rows.Scan(
		&e.ExternalID, &e.Name, &e.FullName, &description, &url, &homepage,
		&lang, &e.IsFork, &e.PopularityCount, &topics, &enrichment,
		&summary, &upstream, &status, &lastAttempt,
		&errMsg, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
	}

	e.Description = description.String
	e.URL = url.String
	e.Homepage = homepage.String
	e.PrimaryLanguage = lang.String
	e.UpstreamUpdatedAt = upstream.String
	e.SyncStatus = models.SyncStatus(status.String)
	e.SyncErrorMessage = errMsg.String
	if enrichment.Valid {
		e.EnrichmentContent = &enrichment.String
	}
	if summary.Valid {
		e.AISummary = &summary.String
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		e.LastSyncAttempt = &t
	}

	e.Topics = []string{}
	if topics.Valid && topics.String != "" {
		if err := json.Unmarshal([]byte(topics.String), &e.Topics); err != nil {
			logging.Warn().Err(err).Int64("external_id", e.ExternalID).Msg("Ignoring malformed topics column")
			e.Topics = []string{}
		}
	}
	return &e, nil
}

// execWithConflictRetry retries statements that lose a DuckDB optimistic
// concurrency race.
func (db *DB) execWithConflictRetry(ctx context.Context, op, query string, args ...interface{}) error {
	var err error
	for attempt := 0; attempt <= db.maxConflictRetries; attempt++ {
		if _, err = db.conn.ExecContext(ctx, query, args...); err == nil {
			return nil
		}
		if !isTransactionConflict(err) {
			return fmt.Errorf("failed to %s: %w", op, err)
		}
		logging.Debug().Int("attempt", attempt+1).Str("op", op).Msg("Transaction conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(db.conflictBackoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("failed to %s after %d retries: %w", op, db.maxConflictRetries, err)
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update")
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nonNilTopics(topics []string) []string {
	if topics == nil {
		return []string{}
	}
	return topics
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
