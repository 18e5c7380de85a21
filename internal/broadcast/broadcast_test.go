// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// startHub runs h until the test ends.
func startHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Wait until the hub accepts publishes.
	deadline := time.Now().Add(2 * time.Second)
	for !h.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func TestLogBufferKeepsMostRecent(t *testing.T) {
	t.Parallel()

	b := NewLogBuffer(1000)
	for i := 1; i <= 1500; i++ {
		b.Append(models.LogLevelInfo, "", fmt.Sprintf("entry %d", i), time.Now())
	}

	if b.Len() != 1000 {
		t.Fatalf("expected 1000 retained entries, got %d", b.Len())
	}
	got := b.GetSince(0)
	if len(got) != 1000 {
		t.Fatalf("expected 1000 entries from GetSince(0), got %d", len(got))
	}
	for i, e := range got {
		want := int64(501 + i)
		if e.ID != want {
			t.Fatalf("position %d: expected id %d, got %d", i, want, e.ID)
		}
	}
	if got[999].Message != "entry 1500" {
		t.Errorf("expected newest entry last, got %q", got[999].Message)
	}
}

func TestLogBufferGetSince(t *testing.T) {
	t.Parallel()

	b := NewLogBuffer(5)
	for i := 0; i < 8; i++ {
		b.Append(models.LogLevelInfo, "", "x", time.Now())
	}
	// retained ids: 4..8

	tests := []struct {
		after int64
		want  []int64
	}{
		{0, []int64{4, 5, 6, 7, 8}},
		{2, []int64{4, 5, 6, 7, 8}},
		{5, []int64{6, 7, 8}},
		{7, []int64{8}},
		{8, nil},
		{100, nil},
	}
	for _, tt := range tests {
		got := b.GetSince(tt.after)
		if len(got) != len(tt.want) {
			t.Errorf("GetSince(%d): expected %d entries, got %d", tt.after, len(tt.want), len(got))
			continue
		}
		for i := range got {
			if got[i].ID != tt.want[i] {
				t.Errorf("GetSince(%d)[%d]: expected id %d, got %d", tt.after, i, tt.want[i], got[i].ID)
			}
		}
	}
}

func TestLogBufferEmpty(t *testing.T) {
	t.Parallel()

	b := NewLogBuffer(0)
	if b.Capacity() != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, b.Capacity())
	}
	if got := b.GetSince(0); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestLogBufferConcurrentAppendIDsUnique(t *testing.T) {
	t.Parallel()

	b := NewLogBuffer(10000)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Append(models.LogLevelDebug, "", "x", time.Now())
			}
		}()
	}
	wg.Wait()

	got := b.GetSince(0)
	if len(got) != 4000 {
		t.Fatalf("expected 4000 entries, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID != got[i-1].ID+1 {
			t.Fatalf("expected contiguous ids, got %d after %d", got[i].ID, got[i-1].ID)
		}
	}
}

func TestHubFanOut(t *testing.T) {
	t.Parallel()

	h := NewHub(16, time.Minute)
	startHub(t, h)

	ctx := context.Background()
	a, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		h.Publish(models.LogEntry{ID: i})
	}

	for _, sub := range []*Subscription{a, b} {
		for want := int64(1); want <= 3; want++ {
			select {
			case e := <-sub.C:
				if e.ID != want {
					t.Errorf("subscription %d: expected id %d, got %d", sub.ID(), want, e.ID)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("subscription %d: timed out waiting for id %d", sub.ID(), want)
			}
		}
	}
}

func TestHubRemovesSlowSubscriberOnly(t *testing.T) {
	t.Parallel()

	h := NewHub(2, time.Minute)
	startHub(t, h)

	ctx := context.Background()
	slow, _ := h.Subscribe(ctx)
	fast, _ := h.Subscribe(ctx)

	received := make(chan int64, 100)
	go func() {
		for e := range fast.C {
			received <- e.ID
		}
	}()

	for i := int64(1); i <= 10; i++ {
		h.Publish(models.LogEntry{ID: i})
		// let the fast reader keep up
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected slow subscriber to be removed")
	}
	if slow.Reason() != RemovedSlow {
		t.Errorf("expected reason %q, got %q", RemovedSlow, slow.Reason())
	}

	deadline := time.After(2 * time.Second)
	for count := 0; count < 10; {
		select {
		case <-received:
			count++
		case <-deadline:
			t.Fatalf("fast subscriber received only %d entries", count)
		}
	}
	if h.SubscriberCount() != 1 {
		t.Errorf("expected 1 remaining subscriber, got %d", h.SubscriberCount())
	}
}

func TestSubscriptionIdleTimeout(t *testing.T) {
	t.Parallel()

	h := NewHub(8, 30*time.Millisecond)
	startHub(t, h)

	sub, err := h.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to close without entries")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected idle subscription to terminate")
	}
	if sub.Reason() != RemovedIdle {
		t.Errorf("expected reason %q, got %q", RemovedIdle, sub.Reason())
	}
}

func TestSubscriptionClosedByContext(t *testing.T) {
	t.Parallel()

	h := NewHub(8, time.Minute)
	startHub(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscription to end with its context")
	}
	sub.Close() // idempotent
}

func TestHubShutdownClosesSubscriptions(t *testing.T) {
	t.Parallel()

	h := NewHub(8, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()

	sub, err := h.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected subscription to close on shutdown")
	}
	if _, err := h.Subscribe(context.Background()); !errors.Is(err, ErrHubStopped) {
		t.Errorf("expected ErrHubStopped after shutdown, got %v", err)
	}
}

func TestProgressStoreOverwritesAndBounds(t *testing.T) {
	t.Parallel()

	s := NewProgressStore(2)
	s.Update(models.Progress{RunID: "a", Processed: 1})
	s.Update(models.Progress{RunID: "a", Processed: 5})

	p, ok := s.Get("a")
	if !ok || p.Processed != 5 {
		t.Errorf("expected overwritten snapshot with 5, got %+v", p)
	}

	s.Update(models.Progress{RunID: "b"})
	s.Update(models.Progress{RunID: "c"})
	if _, ok := s.Get("a"); ok {
		t.Error("expected oldest run to be evicted")
	}
	if latest, _ := s.Latest(); latest.RunID != "c" {
		t.Errorf("expected latest run c, got %q", latest.RunID)
	}
	s.Update(models.Progress{})
	if latest, _ := s.Latest(); latest.RunID != "c" {
		t.Error("expected snapshot without run id to be ignored")
	}
}

func TestBroadcasterLogAndStream(t *testing.T) {
	t.Parallel()

	b := New(&config.BroadcastConfig{Capacity: 10, SubscriberBuffer: 8, IdleTimeout: time.Minute})
	startHub(t, b.Hub())

	b.Infof("run-1", "before %d", 1)

	sub, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b.Warnf("run-1", "after %d", 2)

	select {
	case e := <-sub.C:
		if e.ID != 2 || e.Level != models.LogLevelWarn || e.Message != "after 2" || e.RunID != "run-1" {
			t.Errorf("unexpected streamed entry: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for streamed entry")
	}

	if got := b.GetSince(0); len(got) != 2 || got[0].Message != "before 1" {
		t.Errorf("unexpected replay: %+v", got)
	}
	if b.LastID() != 2 {
		t.Errorf("expected last id 2, got %d", b.LastID())
	}

	b.UpdateProgress(models.Progress{RunID: "run-1", Percent: 50})
	if p, ok := b.Progress("run-1"); !ok || p.Percent != 50 {
		t.Errorf("unexpected progress: %+v", p)
	}
}
