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
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
)

// HTTPStatusError is returned for any non-2xx upstream response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	// RetryAfter is the parsed Retry-After header, zero if absent.
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Body)
}

// MetricsCategory tags upstream failures for the sync_errors_total metric.
func (e *HTTPStatusError) MetricsCategory() string { return "upstream" }

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsPermanent reports whether err is a non-retryable upstream 4xx.
func IsPermanent(err error) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && !se.Retryable()
}

// IsRetryable reports whether a failed attempt should be retried: HTTP 429,
// 5xx, timeouts and connection-level network errors. A per-request client
// timeout is retryable; a bare context cancellation or deadline is not.
// Callers must still check their own ctx, since a cancelled request can
// surface as a net.Error too.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if netErr != nil {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// retryReason labels a retryable error for metrics.
func retryReason(err error) string {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "server_error"
	}
	return "network"
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// RetryPolicy is exponential backoff with symmetric jitter.
type RetryPolicy struct {
	// MaxAttempts counts the first call, so 5 means 1 call + 4 retries.
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFraction    float64

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewRetryPolicy builds a policy from config. A zero seed uses the clock;
// tests pass a fixed seed for deterministic jitter.
func NewRetryPolicy(cfg *config.GitHubConfig, seed int64) *RetryPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RetryPolicy{
		MaxAttempts:       cfg.RetryAttempts,
		InitialBackoff:    cfg.RetryInitial,
		MaxBackoff:        cfg.RetryMaxInterval,
		BackoffMultiplier: cfg.RetryMultiplier,
		JitterFraction:    cfg.RetryJitter,
		//nolint:gosec // G404: non-cryptographic jitter
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Backoff returns the wait before retry number retry (0-based).
func (p *RetryPolicy) Backoff(retry int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(retry))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	p.rngMu.Lock()
	jitter := backoff * p.JitterFraction * (p.rng.Float64()*2 - 1)
	p.rngMu.Unlock()

	d := time.Duration(backoff + jitter)
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// delayFor picks the wait before the next attempt, honouring Retry-After.
func (p *RetryPolicy) delayFor(retry int, err error) time.Duration {
	var se *HTTPStatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		if se.RetryAfter > p.MaxBackoff {
			return p.MaxBackoff
		}
		return se.RetryAfter
	}
	return p.Backoff(retry)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
