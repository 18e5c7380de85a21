// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBodySize = 64 << 10
	githubAPIVersion = "2022-11-28"
)

// GitHubClient performs GET requests against the repository-hosting API.
// Every attempt passes through the outbound rate limiter and the circuit
// breaker. The retry loop sits outside the breaker so each attempt is
// counted individually.
type GitHubClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *sourceBreaker
	retry   *RetryPolicy

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGitHubClient creates a client from config.
func NewGitHubClient(cfg *config.GitHubConfig) *GitHubClient {
	limit := rate.Inf
	if cfg.RateInterval > 0 {
		limit = rate.Every(cfg.RateInterval)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &GitHubClient{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.Token,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		breaker: newSourceBreaker("github-api", cfg),
		retry:   NewRetryPolicy(cfg, 0),
		sleep:   sleepCtx,
	}
}

// BreakerState reports the circuit state for status endpoints.
func (c *GitHubClient) BreakerState() string {
	return c.breaker.State()
}

// get fetches path and returns the response body. Transient failures are
// retried with backoff; an open circuit or a permanent 4xx returns at once.
func (c *GitHubClient) get(ctx context.Context, op, path string) ([]byte, error) {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.delayFor(attempt-1, lastErr)
			metrics.FetcherRetries.WithLabelValues(retryReason(lastErr)).Inc()
			logging.Debug().
				Str("operation", op).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying upstream request")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		body, err := c.breaker.execute(func() ([]byte, error) {
			return c.doOnce(ctx, op, path)
		})
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil || isBreakerRejection(err) || !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// doOnce performs a single HTTP attempt.
func (c *GitHubClient) doOnce(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("User-Agent", "starcatalog")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.FetcherRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize)) //nolint:errcheck // best-effort error body
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, errors.New("response body exceeds size limit")
	}
	return body, nil
}
