// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package database stores the repository catalog in DuckDB.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
)

// ErrNotFound is returned when a catalog entry does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// DB wraps the DuckDB connection and provides catalog access methods
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	maxConflictRetries int
	conflictBackoff    time.Duration
}

// New opens the database at cfg.Path and creates the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg.Path != ":memory:" {
		// 0750 per gosec G301
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:               conn,
		cfg:                cfg,
		maxConflictRetries: 3,
		conflictBackoff:    50 * time.Millisecond,
	}
	db.configureConnectionPool()

	if err := db.createTables(context.Background()); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

func (db *DB) createTables(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS catalog_entries (
		external_id           BIGINT PRIMARY KEY,
		name                  VARCHAR NOT NULL,
		full_name             VARCHAR NOT NULL,
		description           VARCHAR,
		url                   VARCHAR,
		homepage              VARCHAR,
		primary_language      VARCHAR,
		is_fork               BOOLEAN NOT NULL DEFAULT false,
		popularity_count      INTEGER NOT NULL DEFAULT 0,
		topics                VARCHAR NOT NULL DEFAULT '[]',
		enrichment_content    VARCHAR,
		ai_summary            VARCHAR,
		upstream_updated_at   VARCHAR,
		sync_status           VARCHAR NOT NULL DEFAULT 'UNSYNCED',
		last_sync_attempt     TIMESTAMP,
		sync_error_message    VARCHAR,
		curation_attempted_at TIMESTAMP,
		created_at            TIMESTAMP NOT NULL,
		updated_at            TIMESTAMP NOT NULL
	)`
	// No secondary indexes: DuckDB rewrites updates of indexed columns as
	// delete+insert, which trips the primary key inside ON CONFLICT upserts.
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create catalog_entries: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	return db.conn.Close()
}

// closeQuietly is for cleanup on error paths where a Close error is not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close rows")
	}
}
