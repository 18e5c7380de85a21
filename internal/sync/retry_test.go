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
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"500", &HTTPStatusError{StatusCode: http.StatusInternalServerError}, true},
		{"503 wrapped", fmt.Errorf("get: %w", &HTTPStatusError{StatusCode: 503}), true},
		{"404", &HTTPStatusError{StatusCode: http.StatusNotFound}, false},
		{"403", &HTTPStatusError{StatusCode: http.StatusForbidden}, false},
		{"422", &HTTPStatusError{StatusCode: http.StatusUnprocessableEntity}, false},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"net error", &net.DNSError{Err: "timeout", IsTimeout: true}, true},
		{"context canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"client timeout", &url.Error{Op: "Get", URL: "https://api.github.com/users/octo/starred", Err: context.DeadlineExceeded}, true},
		{"canceled request", &url.Error{Op: "Get", URL: "https://api.github.com/users/octo/starred", Err: context.Canceled}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("expected IsRetryable=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	cfg := &config.GitHubConfig{
		RetryAttempts:    5,
		RetryInitial:     time.Second,
		RetryMultiplier:  2.0,
		RetryMaxInterval: 30 * time.Second,
		RetryJitter:      0.1,
	}
	p := NewRetryPolicy(cfg, 42)

	for retry, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second} {
		d := p.Backoff(retry)
		lo := time.Duration(float64(base) * 0.9)
		hi := time.Duration(float64(base) * 1.1)
		if d < lo || d > hi {
			t.Errorf("retry %d: expected backoff in [%v, %v], got %v", retry, lo, hi, d)
		}
	}

	for retry := 5; retry < 10; retry++ {
		if d := p.Backoff(retry); d > 30*time.Second {
			t.Errorf("retry %d: expected backoff capped at 30s, got %v", retry, d)
		}
	}
}

func TestRetryPolicyHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	cfg := &config.GitHubConfig{RetryInitial: time.Second, RetryMultiplier: 2, RetryMaxInterval: 10 * time.Second}
	p := NewRetryPolicy(cfg, 1)

	err := &HTTPStatusError{StatusCode: 429, RetryAfter: 3 * time.Second}
	if d := p.delayFor(0, err); d != 3*time.Second {
		t.Errorf("expected Retry-After delay 3s, got %v", d)
	}

	err.RetryAfter = time.Minute
	if d := p.delayFor(0, err); d != 10*time.Second {
		t.Errorf("expected Retry-After capped at 10s, got %v", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{" 12 ", 12 * time.Second},
		{"-1", 0},
		{"garbage", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestSleepCtxCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
