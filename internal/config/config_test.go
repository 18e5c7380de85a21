// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.GitHub.User = "octocat"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if cfg.GitHub.RetryAttempts != 5 {
		t.Errorf("GitHub.RetryAttempts = %d, want 5", cfg.GitHub.RetryAttempts)
	}
	if cfg.GitHub.RetryInitial != time.Second || cfg.GitHub.RetryMaxInterval != 30*time.Second {
		t.Errorf("unexpected retry intervals: %v / %v", cfg.GitHub.RetryInitial, cfg.GitHub.RetryMaxInterval)
	}
	if cfg.Broadcast.Capacity != 1000 {
		t.Errorf("Broadcast.Capacity = %d, want 1000", cfg.Broadcast.Capacity)
	}
	if cfg.Bootstrap.Cooldown != 10*time.Minute {
		t.Errorf("Bootstrap.Cooldown = %v, want 10m", cfg.Bootstrap.Cooldown)
	}
	if cfg.Budget.WarnPercent != 80 {
		t.Errorf("Budget.WarnPercent = %v, want 80", cfg.Budget.WarnPercent)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing user", func(c *Config) { c.GitHub.User = "" }, "GITHUB_USER"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"bad page size", func(c *Config) { c.GitHub.PageSize = 500 }, "page_size"},
		{"bad jitter", func(c *Config) { c.GitHub.RetryJitter = 1.5 }, "retry_jitter"},
		{"bad capacity", func(c *Config) { c.Broadcast.Capacity = 0 }, "LOG_BUFFER_CAPACITY"},
		{"bad warn percent", func(c *Config) { c.Budget.WarnPercent = 120 }, "WARN_PERCENT"},
		{"bad timezone", func(c *Config) { c.Budget.Timezone = "Mars/Olympus" }, "TIMEZONE"},
		{"curation without key", func(c *Config) { c.Curation.Enabled = true }, "CURATION_API_KEY"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"ratelimit disabled skips checks", func(c *Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.Burst = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"GITHUB_USER":           "github.user",
		"AI_DAILY_TOKEN_BUDGET": "budget.daily_budget",
		"BOOTSTRAP_COOLDOWN":    "bootstrap.cooldown",
		"PATH":                  "",
		"HOME":                  "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

// Load reads the process environment, so these tests use t.Setenv and
// cannot run in parallel.

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("GITHUB_USER", "octocat")
	t.Setenv("AI_DAILY_TOKEN_BUDGET", "5000")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SYNC_INTERVAL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GitHub.User != "octocat" {
		t.Errorf("expected user octocat, got %q", cfg.GitHub.User)
	}
	if cfg.Budget.DailyBudget != 5000 {
		t.Errorf("expected budget 5000, got %d", cfg.Budget.DailyBudget)
	}
	if cfg.Sync.Interval != 15*time.Minute {
		t.Errorf("expected interval 15m, got %v", cfg.Sync.Interval)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "github:\n  user: from-file\nbudget:\n  daily_budget: 42\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("AI_DAILY_TOKEN_BUDGET", "99")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GitHub.User != "from-file" {
		t.Errorf("expected user from file, got %q", cfg.GitHub.User)
	}
	if cfg.Budget.DailyBudget != 99 {
		t.Errorf("expected env to override file, got %d", cfg.Budget.DailyBudget)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("GITHUB_USER", "")

	if _, err := Load(); err == nil {
		t.Error("expected validation error without GITHUB_USER")
	}
}

func TestServerAddr(t *testing.T) {
	t.Parallel()

	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := s.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("expected 127.0.0.1:9000, got %s", got)
	}
}
