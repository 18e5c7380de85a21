// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/starcatalog/config.yaml",
	"/etc/starcatalog/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			Timeout:           30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RequestsPerMinute: 300,
		},
		GitHub: GitHubConfig{
			APIURL:            "https://api.github.com",
			RequestTimeout:    15 * time.Second,
			MaxItems:          1000,
			PageSize:          100,
			RateInterval:      750 * time.Millisecond,
			RateBurst:         5,
			RetryAttempts:     5,
			RetryInitial:      time.Second,
			RetryMultiplier:   2.0,
			RetryMaxInterval:  30 * time.Second,
			RetryJitter:       0.1,
			BreakerMinRequest: 10,
			BreakerFailRatio:  0.5,
			BreakerOpenFor:    60 * time.Second,
			BreakerHalfOpen:   3,
		},
		Sync: SyncConfig{
			Interval:   6 * time.Hour,
			RunOnStart: false,
		},
		Broadcast: BroadcastConfig{
			Capacity:         1000,
			SubscriberBuffer: 64,
			IdleTimeout:      30 * time.Minute,
			ProgressRuns:     50,
		},
		Budget: BudgetConfig{
			DailyBudget:        100000,
			WarnPercent:        80,
			LowBudgetThreshold: 1000,
			RolloverInterval:   time.Minute,
			Timezone:           "UTC",
		},
		Bootstrap: BootstrapConfig{
			Enabled:  true,
			Cooldown: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Every:   6 * time.Second,
			Burst:   5,
			MaxIdle: 15 * time.Minute,
		},
		Curation: CurationConfig{
			Enabled:         false,
			APIURL:          "https://api.openai.com/v1/chat/completions",
			Model:           "gpt-4o-mini",
			MaxOutputTokens: 256,
			Timeout:         60 * time.Second,
			BatchSize:       10,
		},
		Database: DatabaseConfig{
			Path:      "/data/starcatalog.duckdb",
			MaxMemory: "512MB",
		},
		Badger: BadgerConfig{
			Path: "/data/badger",
		},
		Cache: CacheConfig{
			CatalogTTL:      30 * time.Second,
			CleanupInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in that order of increasing precedence, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"http_host":               "server.host",
	"http_port":               "server.port",
	"http_timeout":            "server.timeout",
	"http_shutdown_timeout":   "server.shutdown_timeout",
	"cors_origins":            "server.cors_origins",
	"http_requests_per_min":   "server.requests_per_minute",
	"github_api_url":          "github.api_url",
	"github_user":             "github.user",
	"github_token":            "github.token",
	"github_request_timeout":  "github.request_timeout",
	"github_max_items":        "github.max_items",
	"github_rate_interval":    "github.rate_interval",
	"github_rate_burst":       "github.rate_burst",
	"github_retry_attempts":   "github.retry_attempts",
	"github_retry_initial":    "github.retry_initial",
	"github_retry_max":        "github.retry_max_interval",
	"github_breaker_ratio":    "github.breaker_failure_ratio",
	"github_breaker_timeout":  "github.breaker_open_timeout",
	"sync_interval":           "sync.interval",
	"sync_run_on_start":       "sync.run_on_start",
	"log_buffer_capacity":     "broadcast.capacity",
	"log_stream_idle_timeout": "broadcast.idle_timeout",
	"ai_daily_token_budget":   "budget.daily_budget",
	"ai_budget_warn_percent":  "budget.warn_percent",
	"ai_budget_low_threshold": "budget.low_budget_threshold",
	"ai_budget_timezone":      "budget.timezone",
	"bootstrap_enabled":       "bootstrap.enabled",
	"bootstrap_cooldown":      "bootstrap.cooldown",
	"ratelimit_enabled":       "ratelimit.enabled",
	"ratelimit_every":         "ratelimit.every",
	"ratelimit_burst":         "ratelimit.burst",
	"curation_enabled":        "curation.enabled",
	"curation_api_url":        "curation.api_url",
	"curation_api_key":        "curation.api_key",
	"curation_model":          "curation.model",
	"curation_batch_size":     "curation.batch_size",
	"duckdb_path":             "database.path",
	"duckdb_max_memory":       "database.max_memory",
	"duckdb_threads":          "database.threads",
	"badger_path":             "badger.path",
	"badger_in_memory":        "badger.in_memory",
	"catalog_cache_ttl":       "cache.catalog_ttl",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
	"log_caller":              "logging.caller",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
