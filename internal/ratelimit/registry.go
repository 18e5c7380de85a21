// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package ratelimit keeps one token bucket per client so operators can
// inspect and clear the limiter state of a single caller.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
)

// Defaults applied when the configuration leaves a field unset.
const (
	DefaultEvery   = 6 * time.Second
	DefaultBurst   = 5
	DefaultMaxIdle = time.Hour
)

// State is the observable limiter state of one client.
type State struct {
	Client   string    `json:"client"`
	Tokens   float64   `json:"tokens"`
	Limit    float64   `json:"limit_per_second"`
	Burst    int       `json:"burst"`
	LastSeen time.Time `json:"last_seen"`
	Tracked  bool      `json:"tracked"`
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Registry holds a rate.Limiter per client identifier.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	maxIdle  time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry from cfg.
func NewRegistry(cfg *config.RateLimitConfig) *Registry {
	every := cfg.Every
	if every <= 0 {
		every = DefaultEvery
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	return &Registry{
		limiters: make(map[string]*entry),
		limit:    rate.Every(every),
		burst:    burst,
		maxIdle:  maxIdle,
		now:      time.Now,
	}
}

// Allow consumes one token for client and reports whether it was available.
func (r *Registry) Allow(client string) bool {
	now := r.now()
	r.mu.Lock()
	e, ok := r.limiters[client]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[client] = e
	}
	e.lastSeen = now
	limiter := e.limiter
	r.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// RetryAfter returns how long client must wait for the next token.
func (r *Registry) RetryAfter(client string) time.Duration {
	st := r.State(client)
	if st.Tokens >= 1 || st.Limit <= 0 {
		return 0
	}
	return time.Duration((1 - st.Tokens) / st.Limit * float64(time.Second))
}

// State returns the limiter state of client. Unknown clients report a full
// bucket with Tracked false.
func (r *Registry) State(client string) State {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := State{
		Client: client,
		Limit:  float64(r.limit),
		Burst:  r.burst,
		Tokens: float64(r.burst),
	}
	if e, ok := r.limiters[client]; ok {
		st.Tracked = true
		st.LastSeen = e.lastSeen
		st.Tokens = math.Max(0, e.limiter.TokensAt(now))
	}
	return st
}

// Clear forgets client so its next request starts with a full bucket. It
// reports whether the client was tracked.
func (r *Registry) Clear(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.limiters[client]
	delete(r.limiters, client)
	return ok
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// Cleanup removes clients not seen for maxAge and returns how many went.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	threshold := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for client, e := range r.limiters {
		if e.lastSeen.Before(threshold) {
			delete(r.limiters, client)
			removed++
		}
	}
	return removed
}

// Serve periodically drops idle clients until ctx is cancelled. It
// implements suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.maxIdle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Cleanup(r.maxIdle); n > 0 {
				logging.Debug().Int("removed", n).Msg("Removed idle rate limiters")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Registry) String() string { return "ratelimit-cleanup" }

// RejectFunc writes the response for a limited request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

// Middleware limits each client of next, keyed by ClientID. endpoint labels
// the rejection metric.
func (r *Registry) Middleware(endpoint string, reject RejectFunc) func(http.Handler) http.Handler {
	if reject == nil {
		reject = defaultReject
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			client := ClientID(req)
			if !r.Allow(client) {
				metrics.RateLimitRejections.WithLabelValues(endpoint).Inc()
				retryAfter := r.RetryAfter(client)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				logging.Ctx(req.Context()).Debug().
					Str("client", client).
					Str("endpoint", endpoint).
					Msg("Request rate limited")
				reject(w, req, retryAfter)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// ClientID returns the host part of RemoteAddr. Proxy headers are resolved
// earlier by chi's RealIP middleware.
func ClientID(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func defaultReject(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
	http.Error(w, "Too many requests", http.StatusTooManyRequests)
}
