// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(every time.Duration, burst int) (*Registry, *fakeClock) {
	r := NewRegistry(&config.RateLimitConfig{Enabled: true, Every: every, Burst: burst, MaxIdle: time.Hour})
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	r.now = clock.Now
	return r, clock
}

func TestAllowPerClient(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry(time.Second, 2)

	if !r.Allow("1.1.1.1") || !r.Allow("1.1.1.1") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if r.Allow("1.1.1.1") {
		t.Error("expected third request to be limited")
	}
	if !r.Allow("2.2.2.2") {
		t.Error("expected other client to have its own bucket")
	}

	clock.Advance(time.Second)
	if !r.Allow("1.1.1.1") {
		t.Error("expected a token after one interval")
	}
}

func TestStateAndClear(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry(time.Second, 3)

	st := r.State("9.9.9.9")
	if st.Tracked || st.Tokens != 3 || st.Burst != 3 || st.Limit != 1 {
		t.Errorf("unexpected state for unknown client: %+v", st)
	}

	r.Allow("9.9.9.9")
	r.Allow("9.9.9.9")
	st = r.State("9.9.9.9")
	if !st.Tracked || st.Tokens != 1 {
		t.Errorf("expected 1 token left, got %+v", st)
	}
	if !st.LastSeen.Equal(clock.Now()) {
		t.Errorf("expected lastSeen %v, got %v", clock.Now(), st.LastSeen)
	}

	if !r.Clear("9.9.9.9") {
		t.Error("expected Clear to report a tracked client")
	}
	if r.Clear("9.9.9.9") {
		t.Error("expected second Clear to report nothing removed")
	}
	if st := r.State("9.9.9.9"); st.Tracked || st.Tokens != 3 {
		t.Errorf("expected full bucket after clear, got %+v", st)
	}
}

func TestCleanupRemovesIdleClients(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry(time.Second, 1)
	r.Allow("old")
	clock.Advance(2 * time.Hour)
	r.Allow("fresh")

	if n := r.Cleanup(time.Hour); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if r.Len() != 1 || !r.State("fresh").Tracked {
		t.Error("expected only the fresh client to remain")
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(10*time.Second, 1)
	if d := r.RetryAfter("c"); d != 0 {
		t.Errorf("expected no wait for unknown client, got %v", d)
	}
	r.Allow("c")
	if d := r.RetryAfter("c"); d < 9*time.Second || d > 10*time.Second {
		t.Errorf("expected about 10s wait, got %v", d)
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(time.Minute, 1)
	called := 0
	h := r.Middleware("bootstrap", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusAccepted)
	}))

	tests := []struct {
		name       string
		remoteAddr string
		wantStatus int
	}{
		{"first request passes", "10.0.0.1:1234", http.StatusAccepted},
		{"same client limited", "10.0.0.1:5555", http.StatusTooManyRequests},
		{"different client passes", "10.0.0.2:1234", http.StatusAccepted},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bootstrap", nil)
		req.RemoteAddr = tt.remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: expected status %d, got %d", tt.name, tt.wantStatus, rec.Code)
		}
		if tt.wantStatus == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Errorf("%s: expected Retry-After header", tt.name)
		}
	}
	if called != 2 {
		t.Errorf("expected handler called twice, got %d", called)
	}
}

func TestClientID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.5:8080", "192.168.1.5"},
		{"[::1]:9000", "::1"},
		{"203.0.113.9", "203.0.113.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientID(req); got != tt.want {
			t.Errorf("ClientID(%q): expected %q, got %q", tt.remoteAddr, tt.want, got)
		}
	}
}
