// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
)

// ErrHubStopped is returned by Subscribe when the hub is not running.
var ErrHubStopped = errors.New("broadcast hub stopped")

// Reasons a subscription ends.
const (
	RemovedSlow     = "slow"
	RemovedIdle     = "idle"
	RemovedClosed   = "closed"
	RemovedShutdown = "shutdown"
)

var subscriptionIDCounter atomic.Uint64

// Subscription receives every entry published after it was registered.
// C is closed when the subscription ends; Reason then reports why.
type Subscription struct {
	id   uint64
	hub  *Hub
	send chan models.LogEntry
	C    <-chan models.LogEntry

	activity chan struct{}
	done     chan struct{}
	once     sync.Once
	reason   atomic.Value
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uint64 { return s.id }

// Done is closed when the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Reason returns why the subscription ended, or "" while active.
func (s *Subscription) Reason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return ""
}

// Close removes the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, RemovedClosed)
}

// touch restarts the idle timer after a delivery.
func (s *Subscription) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// terminate closes the channels exactly once. Only the hub goroutine or
// shutdown path calls it.
func (s *Subscription) terminate(reason string) {
	s.once.Do(func() {
		s.reason.Store(reason)
		close(s.send)
		close(s.done)
	})
}

// watchIdle ends the subscription after idle elapses with no delivery or
// when ctx is cancelled. The hub itself never tracks timeouts.
func (s *Subscription) watchIdle(ctx context.Context, idle time.Duration) {
	var timeout <-chan time.Time
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.hub.remove(s, RemovedClosed)
			return
		case <-s.activity:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idle)
			}
		case <-timeout:
			s.hub.remove(s, RemovedIdle)
			return
		}
	}
}

type removal struct {
	sub    *Subscription
	reason string
}

// Hub fans published entries out to every registered subscription. A
// subscription whose buffer is full is removed; the publisher and the other
// subscriptions are unaffected.
type Hub struct {
	subscribers map[*Subscription]bool
	broadcast   chan models.LogEntry
	register    chan *Subscription
	unregister  chan removal

	bufferSize  int
	idleTimeout time.Duration

	mu      sync.RWMutex
	running atomic.Bool
	stopped chan struct{}
}

// NewHub creates a hub. bufferSize is the per-subscriber channel size.
func NewHub(bufferSize int, idleTimeout time.Duration) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subscribers: make(map[*Subscription]bool),
		broadcast:   make(chan models.LogEntry, 1024),
		register:    make(chan *Subscription),
		unregister:  make(chan removal),
		bufferSize:  bufferSize,
		idleTimeout: idleTimeout,
		stopped:     make(chan struct{}),
	}
}

// Subscribe registers a new subscription. It ends when ctx is cancelled,
// when Close is called, after the idle timeout, or when it falls behind.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	send := make(chan models.LogEntry, h.bufferSize)
	sub := &Subscription{
		id:       subscriptionIDCounter.Add(1),
		hub:      h,
		send:     send,
		C:        send,
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	select {
	case h.register <- sub:
	case <-stopped:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	go sub.watchIdle(ctx, h.idleTimeout)
	return sub, nil
}

// Publish queues entry for fan-out. It never blocks.
func (h *Hub) Publish(entry models.LogEntry) {
	if !h.running.Load() {
		return
	}
	select {
	case h.broadcast <- entry:
	default:
		logging.Warn().Int64("entry_id", entry.ID).Msg("broadcast channel full, dropping live log entry")
	}
}

// Running reports whether the hub loop is accepting publishes.
func (h *Hub) Running() bool { return h.running.Load() }

// SubscriberCount returns the number of registered subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) remove(sub *Subscription, reason string) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	select {
	case h.unregister <- removal{sub: sub, reason: reason}:
	case <-sub.done:
	case <-stopped:
	}
}

// RunWithContext processes registrations and fan-out until ctx is done.
// Lifecycle events take priority over broadcasts so subscriber state is
// consistent before each delivery.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.mu.Lock()
	select {
	case <-h.stopped:
		h.stopped = make(chan struct{})
	default:
	}
	h.mu.Unlock()
	h.running.Store(true)

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case sub := <-h.register:
			h.add(sub)
			continue
		case rm := <-h.unregister:
			h.drop(rm.sub, rm.reason)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case sub := <-h.register:
			h.add(sub)
		case rm := <-h.unregister:
			h.drop(rm.sub, rm.reason)
		case entry := <-h.broadcast:
			h.fanOut(entry)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

func (h *Hub) String() string { return "broadcast-hub" }

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	h.subscribers[sub] = true
	n := len(h.subscribers)
	h.mu.Unlock()
	metrics.BroadcastSubscribers.Set(float64(n))
	logging.Debug().Uint64("subscription", sub.id).Int("total", n).Msg("log subscriber registered")
}

func (h *Hub) drop(sub *Subscription, reason string) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	n := len(h.subscribers)
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.terminate(reason)
	metrics.BroadcastSubscribers.Set(float64(n))
	metrics.BroadcastDropped.WithLabelValues(reason).Inc()
	logging.Debug().Uint64("subscription", sub.id).Str("reason", reason).Int("total", n).Msg("log subscriber removed")
}

// fanOut delivers entry in subscription id order.
func (h *Hub) fanOut(entry models.LogEntry) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		select {
		case sub.send <- entry:
			sub.touch()
		default:
			h.drop(sub, RemovedSlow)
		}
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.running.Store(false)

	h.mu.Lock()
	close(h.stopped)
	subs := make([]*Subscription, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[*Subscription]bool)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(RemovedShutdown)
	}
	metrics.BroadcastSubscribers.Set(0)

	reason := "context_canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "broadcast-hub").
		Str("reason", reason).
		Int("subscribers_closed", len(subs)).
		Msg("broadcast hub stopped")
}
