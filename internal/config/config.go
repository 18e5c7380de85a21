// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package config loads the service configuration.
//
// Configuration is layered with koanf:
//  1. Defaults from defaultConfig()
//  2. Optional YAML file (CONFIG_PATH, config.yaml, /etc/starcatalog/config.yaml)
//  3. Environment variables listed in envTransformFunc
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	GitHub    GitHubConfig    `koanf:"github"`
	Sync      SyncConfig      `koanf:"sync"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Budget    BudgetConfig    `koanf:"budget"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Curation  CurationConfig  `koanf:"curation"`
	Database  DatabaseConfig  `koanf:"database"`
	Badger    BadgerConfig    `koanf:"badger"`
	Cache     CacheConfig     `koanf:"cache"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RequestsPerMinute is the global per-IP limit applied by httprate.
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// GitHubConfig holds the upstream repository-hosting API settings.
//
// Environment Variables:
//   - GITHUB_API_URL: API base URL (default: https://api.github.com)
//   - GITHUB_USER: user whose stars are synced (required)
//   - GITHUB_TOKEN: optional bearer token, raises the upstream rate limit
//   - GITHUB_RATE_INTERVAL / GITHUB_RATE_BURST: outbound limiter
type GitHubConfig struct {
	APIURL         string        `koanf:"api_url"`
	User           string        `koanf:"user"`
	Token          string        `koanf:"token"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxItems       int           `koanf:"max_items"`
	PageSize       int           `koanf:"page_size"`

	RateInterval time.Duration `koanf:"rate_interval"`
	RateBurst    int           `koanf:"rate_burst"`

	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryInitial      time.Duration `koanf:"retry_initial"`
	RetryMultiplier   float64       `koanf:"retry_multiplier"`
	RetryMaxInterval  time.Duration `koanf:"retry_max_interval"`
	RetryJitter       float64       `koanf:"retry_jitter"`
	BreakerMinRequest uint32        `koanf:"breaker_min_requests"`
	BreakerFailRatio  float64       `koanf:"breaker_failure_ratio"`
	BreakerOpenFor    time.Duration `koanf:"breaker_open_timeout"`
	BreakerHalfOpen   uint32        `koanf:"breaker_half_open_requests"`
}

// SyncConfig holds catalog synchronization settings.
type SyncConfig struct {
	// Interval between scheduled runs. Zero disables the scheduler.
	Interval time.Duration `koanf:"interval"`
	// RunOnStart triggers one run right after startup.
	RunOnStart bool `koanf:"run_on_start"`
}

// BroadcastConfig sizes the log ring buffer and subscriber behaviour.
type BroadcastConfig struct {
	Capacity         int           `koanf:"capacity"`
	SubscriberBuffer int           `koanf:"subscriber_buffer"`
	IdleTimeout      time.Duration `koanf:"idle_timeout"`
	ProgressRuns     int           `koanf:"progress_runs"`
}

// BudgetConfig holds the daily AI-token budget.
type BudgetConfig struct {
	DailyBudget        int64         `koanf:"daily_budget"`
	WarnPercent        float64       `koanf:"warn_percent"`
	LowBudgetThreshold int64         `koanf:"low_budget_threshold"`
	RolloverInterval   time.Duration `koanf:"rollover_interval"`
	// Timezone is an IANA zone name used to decide when the day rolls over.
	Timezone string `koanf:"timezone"`
}

// BootstrapConfig holds the first-visit bootstrap trigger settings.
type BootstrapConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Cooldown time.Duration `koanf:"cooldown"`
}

// RateLimitConfig configures the per-client limiter on public endpoints.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled"`
	Every   time.Duration `koanf:"every"`
	Burst   int           `koanf:"burst"`
	MaxIdle time.Duration `koanf:"max_idle"`
}

// CurationConfig configures the AI summary caller.
type CurationConfig struct {
	Enabled         bool          `koanf:"enabled"`
	APIURL          string        `koanf:"api_url"`
	APIKey          string        `koanf:"api_key"`
	Model           string        `koanf:"model"`
	MaxOutputTokens int           `koanf:"max_output_tokens"`
	Timeout         time.Duration `koanf:"timeout"`
	BatchSize       int           `koanf:"batch_size"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default
}

// BadgerConfig holds the key-value store used for budget persistence.
type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// CacheConfig controls the in-memory catalog read cache.
type CacheConfig struct {
	// CatalogTTL bounds how long a catalog listing is served from memory.
	// Zero disables the cache.
	CatalogTTL      time.Duration `koanf:"catalog_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
