// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package config

import (
	"fmt"
	"net/url"
	"time"
)

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateGitHub,
		c.validateRetry,
		c.validateBroadcast,
		c.validateBudget,
		c.validateBootstrap,
		c.validateRateLimit,
		c.validateCuration,
		c.validateCache,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("HTTP_REQUESTS_PER_MIN must not be negative")
	}
	return nil
}

func (c *Config) validateGitHub() error {
	if c.GitHub.User == "" {
		return fmt.Errorf("GITHUB_USER is required")
	}
	if _, err := url.ParseRequestURI(c.GitHub.APIURL); err != nil {
		return fmt.Errorf("GITHUB_API_URL is not a valid URL: %w", err)
	}
	if c.GitHub.PageSize < 1 || c.GitHub.PageSize > 100 {
		return fmt.Errorf("github.page_size must be between 1 and 100")
	}
	if c.GitHub.MaxItems < 1 {
		return fmt.Errorf("GITHUB_MAX_ITEMS must be positive")
	}
	if c.GitHub.RateInterval <= 0 || c.GitHub.RateBurst < 1 {
		return fmt.Errorf("GITHUB_RATE_INTERVAL must be positive and GITHUB_RATE_BURST at least 1")
	}
	return nil
}

func (c *Config) validateRetry() error {
	g := c.GitHub
	if g.RetryAttempts < 1 {
		return fmt.Errorf("GITHUB_RETRY_ATTEMPTS must be at least 1")
	}
	if g.RetryInitial <= 0 || g.RetryMaxInterval < g.RetryInitial {
		return fmt.Errorf("retry intervals must be positive with max >= initial")
	}
	if g.RetryMultiplier < 1 {
		return fmt.Errorf("github.retry_multiplier must be >= 1")
	}
	if g.RetryJitter < 0 || g.RetryJitter >= 1 {
		return fmt.Errorf("github.retry_jitter must be in [0, 1)")
	}
	if g.BreakerFailRatio <= 0 || g.BreakerFailRatio > 1 {
		return fmt.Errorf("GITHUB_BREAKER_RATIO must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateBroadcast() error {
	if c.Broadcast.Capacity < 1 {
		return fmt.Errorf("LOG_BUFFER_CAPACITY must be positive")
	}
	if c.Broadcast.SubscriberBuffer < 1 {
		return fmt.Errorf("broadcast.subscriber_buffer must be positive")
	}
	if c.Broadcast.IdleTimeout < time.Second {
		return fmt.Errorf("LOG_STREAM_IDLE_TIMEOUT must be at least 1s")
	}
	return nil
}

func (c *Config) validateBudget() error {
	b := c.Budget
	if b.DailyBudget < 0 {
		return fmt.Errorf("AI_DAILY_TOKEN_BUDGET must not be negative")
	}
	if b.WarnPercent <= 0 || b.WarnPercent > 100 {
		return fmt.Errorf("AI_BUDGET_WARN_PERCENT must be in (0, 100]")
	}
	if b.LowBudgetThreshold < 0 {
		return fmt.Errorf("AI_BUDGET_LOW_THRESHOLD must not be negative")
	}
	if b.RolloverInterval <= 0 {
		return fmt.Errorf("budget.rollover_interval must be positive")
	}
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("AI_BUDGET_TIMEZONE %q is invalid: %w", b.Timezone, err)
	}
	return nil
}

func (c *Config) validateBootstrap() error {
	if c.Bootstrap.Cooldown < 0 {
		return fmt.Errorf("BOOTSTRAP_COOLDOWN must not be negative")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if c.RateLimit.Every <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATELIMIT_EVERY must be positive and RATELIMIT_BURST at least 1")
	}
	return nil
}

func (c *Config) validateCuration() error {
	if !c.Curation.Enabled {
		return nil
	}
	if c.Curation.APIKey == "" {
		return fmt.Errorf("CURATION_API_KEY is required when CURATION_ENABLED=true")
	}
	if _, err := url.ParseRequestURI(c.Curation.APIURL); err != nil {
		return fmt.Errorf("CURATION_API_URL is not a valid URL: %w", err)
	}
	if c.Curation.MaxOutputTokens < 1 || c.Curation.BatchSize < 1 {
		return fmt.Errorf("curation max_output_tokens and batch_size must be positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.CatalogTTL < 0 {
		return fmt.Errorf("CATALOG_CACHE_TTL must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}
