// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package curation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/starcatalog/internal/budget"
	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	err     error
	prompts []string
}

func (f *fakeProvider) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + strings.SplitN(prompt, "\n", 2)[0], nil
}

type fakeStore struct {
	mu        sync.Mutex
	entries   []models.CatalogEntry
	summaries map[int64]string
	attempted map[int64]int
	updateErr error
}

// ListUnsummarized returns untried entries first, in store order, then
// attempted ones by fewest attempts.
func (s *fakeStore) ListUnsummarized(_ context.Context, limit int) ([]models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []models.CatalogEntry
	for _, e := range s.entries {
		if _, done := s.summaries[e.ExternalID]; done {
			continue
		}
		pending = append(pending, e)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return s.attempted[pending[i].ExternalID] < s.attempted[pending[j].ExternalID]
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *fakeStore) MarkCurationAttempted(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempted == nil {
		s.attempted = make(map[int64]int)
	}
	s.attempted[id]++
	return nil
}

func (s *fakeStore) UpdateAISummary(_ context.Context, id int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.summaries == nil {
		s.summaries = make(map[int64]string)
	}
	s.summaries[id] = summary
	return nil
}

type fixedBudget struct {
	mu        sync.Mutex
	remaining int64
	requested []int64
}

func (b *fixedBudget) TryConsume(amount int64) budget.ConsumeResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requested = append(b.requested, amount)
	if amount > b.remaining {
		return budget.ConsumeResult{Granted: false, Remaining: b.remaining}
	}
	b.remaining -= amount
	return budget.ConsumeResult{Granted: true, Remaining: b.remaining}
}

func strPtr(s string) *string { return &s }

func entry(id int64, name, readme string) models.CatalogEntry {
	return models.CatalogEntry{
		ExternalID:        id,
		FullName:          name,
		Description:       "desc " + name,
		EnrichmentContent: strPtr(readme),
	}
}

func testCurationConfig() *config.CurationConfig {
	return &config.CurationConfig{Enabled: true, MaxOutputTokens: 100, BatchSize: 10}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	c := NewCurator(testCurationConfig(), &fakeProvider{}, &fixedBudget{}, &fakeStore{}, nil)
	tests := []struct {
		prompt string
		want   int64
	}{
		{"", 100},
		{"abcd", 101},
		{strings.Repeat("x", 4003), 1100},
	}
	for _, tt := range tests {
		if got := c.EstimateTokens(tt.prompt); got != tt.want {
			t.Errorf("EstimateTokens(len %d): expected %d, got %d", len(tt.prompt), tt.want, got)
		}
	}
}

func TestSummarizeStoresSummary(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	provider := &fakeProvider{}
	b := &fixedBudget{remaining: 10000}
	c := NewCurator(testCurationConfig(), provider, b, store, nil)

	e := entry(1, "a/one", "# One\nA tool.")
	summary, err := c.Summarize(context.Background(), &e)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "summary of Repository: a/one" {
		t.Errorf("unexpected summary %q", summary)
	}
	if store.summaries[1] != summary {
		t.Errorf("expected summary stored, got %q", store.summaries[1])
	}
	if e.AISummary == nil || *e.AISummary != summary {
		t.Error("expected entry updated in place")
	}
	if len(b.requested) != 1 || b.requested[0] != c.EstimateTokens(buildPrompt(&e)) {
		t.Errorf("expected budget charged with the estimate, got %v", b.requested)
	}
}

func TestSummarizeBudgetDenied(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	c := NewCurator(testCurationConfig(), provider, &fixedBudget{remaining: 10}, &fakeStore{}, nil)

	e := entry(1, "a/one", "readme")
	if _, err := c.Summarize(context.Background(), &e); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("expected ErrBudgetExhausted, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("expected provider not called, got %d calls", provider.calls)
	}
}

func TestSummarizeProviderAndStoreErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		providerErr error
		storeErr    error
	}{
		{"provider failure", errors.New("boom"), nil},
		{"store failure", nil, errors.New("database closed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := &fakeStore{updateErr: tt.storeErr}
			c := NewCurator(testCurationConfig(), &fakeProvider{err: tt.providerErr}, &fixedBudget{remaining: 10000}, store, nil)
			e := entry(1, "a/one", "readme")
			if _, err := c.Summarize(context.Background(), &e); err == nil {
				t.Error("expected error")
			}
			if e.AISummary != nil {
				t.Error("expected entry unchanged on failure")
			}
		})
	}
}

type logRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *logRecorder) Log(_ models.LogLevel, _ string, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func TestCurateUnsummarizedStopsWhenBudgetRunsOut(t *testing.T) {
	t.Parallel()

	store := &fakeStore{entries: []models.CatalogEntry{
		entry(1, "a/one", "short"),
		entry(2, "a/two", "short"),
		entry(3, "a/three", "short"),
	}}
	provider := &fakeProvider{}
	// Enough for two prompts of roughly 110 tokens each.
	b := &fixedBudget{remaining: 230}
	rec := &logRecorder{}
	c := NewCurator(testCurationConfig(), provider, b, store, rec)

	out, err := c.CurateUnsummarized(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Summarized != 2 || out.StopReason != ReasonBudgetExhausted {
		t.Errorf("unexpected outcome %+v", out)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", provider.calls)
	}
	found := false
	for _, m := range rec.msgs {
		if strings.Contains(m, "budget exhausted") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected budget log line, got %v", rec.msgs)
	}
}

func TestCurateUnsummarizedIsolatesFailures(t *testing.T) {
	t.Parallel()

	empty := models.CatalogEntry{ExternalID: 9, FullName: "a/empty", EnrichmentContent: strPtr("")}
	store := &fakeStore{entries: []models.CatalogEntry{entry(1, "a/one", "x"), empty}}
	c := NewCurator(testCurationConfig(), &fakeProvider{err: errors.New("upstream 500")}, &fixedBudget{remaining: 100000}, store, nil)

	out, err := c.CurateUnsummarized(context.Background(), "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if out.Considered != 2 || out.Failed != 1 || out.Skipped != 1 || out.Summarized != 0 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if store.attempted[1] != 1 || store.attempted[9] != 1 {
		t.Errorf("expected both entries marked attempted, got %v", store.attempted)
	}
}

// repoFailingProvider fails every prompt for the listed repositories.
type repoFailingProvider struct {
	fakeProvider
	failing []string
}

func (p *repoFailingProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	for _, name := range p.failing {
		if strings.HasPrefix(prompt, "Repository: "+name+"\n") {
			return "", errors.New("upstream 500")
		}
	}
	return p.fakeProvider.Complete(ctx, prompt, maxTokens)
}

func TestCurateUnsummarizedRotatesPastFailingEntries(t *testing.T) {
	t.Parallel()

	store := &fakeStore{entries: []models.CatalogEntry{
		entry(1, "a/bad1", "x"),
		entry(2, "a/bad2", "x"),
		entry(3, "a/good", "x"),
	}}
	provider := &repoFailingProvider{failing: []string{"a/bad1", "a/bad2"}}
	cfg := testCurationConfig()
	cfg.BatchSize = 2
	c := NewCurator(cfg, provider, &fixedBudget{remaining: 100000}, store, nil)

	first, err := c.CurateUnsummarized(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if first.Failed != 2 || first.Summarized != 0 {
		t.Fatalf("unexpected first pass %+v", first)
	}

	second, err := c.CurateUnsummarized(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if second.Summarized != 1 {
		t.Errorf("expected a/good summarized on second pass, got %+v", second)
	}
	if _, ok := store.summaries[3]; !ok {
		t.Error("expected summary stored for a/good")
	}
}

func TestHTTPProvider(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  A fast tool.  "}}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(&config.CurationConfig{APIURL: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second})
	out, err := p.Complete(context.Background(), "hello", 50)
	if err != nil {
		t.Fatal(err)
	}
	if out != "A fast tool." {
		t.Errorf("expected trimmed completion, got %q", out)
	}
	if gotAuth != "Bearer k" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "m" || gotReq.MaxTokens != 50 || len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "hello" {
		t.Errorf("unexpected request %+v", gotReq)
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "slow down"},
		{"empty choices", http.StatusOK, `{"choices":[]}`, ErrEmptyCompletion.Error()},
		{"bad json", http.StatusOK, `not json`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider(&config.CurationConfig{APIURL: srv.URL, Timeout: time.Second})
			_, err := p.Complete(context.Background(), "x", 10)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestHTTPProviderBreakerOpens(t *testing.T) {
	t.Parallel()

	calls := 0
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(&config.CurationConfig{APIURL: srv.URL, Timeout: time.Second})
	for i := 0; i < 7; i++ {
		_, _ = p.Complete(context.Background(), "x", 10)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 5 {
		t.Errorf("expected breaker to open after 5 failures, got %d upstream calls", calls)
	}
}
