// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
	"github.com/tomtom215/starcatalog/internal/validation"
)

const (
	// MaxEnrichmentChars caps stored README content, counted in runes.
	MaxEnrichmentChars = 50000
	// TruncationMarker is appended to content cut at MaxEnrichmentChars.
	TruncationMarker = "\n\n[... content truncated ...]"

	maxPageSize = 100
)

// ErrInvalidFullName is returned for names that are not owner/repo.
var ErrInvalidFullName = errors.New("full name must have the form owner/repo")

// FetchResult is the outcome of a resilient fetch. Exactly one of three
// shapes is returned:
//   - Succeeded: Value is authoritative (it may be empty, e.g. no README)
//   - Degraded: the upstream was unavailable, Value is the zero value and
//     must be read as "unknown", never as "absent"
//   - neither: Err describes a non-transient problem with this one item
type FetchResult[T any] struct {
	Succeeded bool
	Value     T
	Degraded  bool
	Err       error
}

func succeeded[T any](v T) FetchResult[T] {
	return FetchResult[T]{Succeeded: true, Value: v}
}

func degraded[T any](err error) FetchResult[T] {
	return FetchResult[T]{Degraded: true, Err: err}
}

func failed[T any](err error) FetchResult[T] {
	return FetchResult[T]{Err: err}
}

// rawItemShape holds the fields an upstream item must carry to be kept.
type rawItemShape struct {
	ID       *int64 `validate:"required"`
	Name     string `validate:"required"`
	FullName string `validate:"required,fullname"`
}

type readmeResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Fetcher is the Source Fetcher: it lists starred repositories, fetches
// README content and single repositories, and turns upstream trouble into
// degraded results instead of errors.
type Fetcher struct {
	client   *GitHubClient
	maxItems int
	pageSize int
	reporter Reporter
}

// NewFetcher creates a fetcher. reporter may be nil.
func NewFetcher(cfg *config.GitHubConfig, reporter Reporter) *Fetcher {
	return newFetcherWithClient(NewGitHubClient(cfg), cfg, reporter)
}

func newFetcherWithClient(client *GitHubClient, cfg *config.GitHubConfig, reporter Reporter) *Fetcher {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Fetcher{
		client:   client,
		maxItems: cfg.MaxItems,
		pageSize: pageSize,
		reporter: reporter,
	}
}

// BreakerState reports the upstream circuit state.
func (f *Fetcher) BreakerState() string {
	return f.client.BreakerState()
}

// ListStarred fetches the user's starred repositories page by page, up to
// the configured maximum. Items without an id, without a name, or with a
// malformed full name are dropped. Any page failure degrades the whole
// listing to an empty result so a partial list is never mistaken for the
// complete set.
func (f *Fetcher) ListStarred(ctx context.Context, user string) FetchResult[[]models.RawItem] {
	const op = "list_starred"
	if user == "" {
		return failed[[]models.RawItem](errors.New("user is required"))
	}

	items := make([]models.RawItem, 0, f.pageSize)
	dropped := 0
	for page := 1; ; page++ {
		path := fmt.Sprintf("/users/%s/starred?per_page=%d&page=%d", url.PathEscape(user), f.pageSize, page)
		body, err := f.client.get(ctx, op, path)
		if err != nil {
			return fallback[[]models.RawItem](ctx, f, op, user, err)
		}

		var batch []models.RawItem
		if err := json.Unmarshal(body, &batch); err != nil {
			return fallback[[]models.RawItem](ctx, f, op, user, fmt.Errorf("decode page %d: %w", page, err))
		}

		for i := range batch {
			if !validRawItem(&batch[i]) {
				dropped++
				continue
			}
			items = append(items, batch[i])
		}

		if len(batch) < f.pageSize || (f.maxItems > 0 && len(items) >= f.maxItems) {
			break
		}
	}

	if f.maxItems > 0 && len(items) > f.maxItems {
		items = items[:f.maxItems]
	}
	if dropped > 0 {
		logging.Debug().Int("dropped", dropped).Str("user", user).Msg("Dropped malformed starred items")
	}
	metrics.FetcherRequests.WithLabelValues(op, "success").Inc()
	return succeeded(items)
}

// FetchEnrichment fetches and decodes the README of fullName. A missing
// README is a successful empty result.
func (f *Fetcher) FetchEnrichment(ctx context.Context, fullName string) FetchResult[string] {
	const op = "fetch_enrichment"
	path, err := repoPath(fullName)
	if err != nil {
		return failed[string](err)
	}

	body, err := f.client.get(ctx, op, path+"/readme")
	if err != nil {
		if IsNotFound(err) {
			metrics.FetcherRequests.WithLabelValues(op, "not_found").Inc()
			return succeeded("")
		}
		return fallback[string](ctx, f, op, fullName, err)
	}

	var readme readmeResponse
	if err := json.Unmarshal(body, &readme); err != nil {
		return failed[string](fmt.Errorf("decode readme for %s: %w", fullName, err))
	}
	content, err := decodeContent(readme)
	if err != nil {
		return failed[string](fmt.Errorf("decode readme for %s: %w", fullName, err))
	}

	metrics.FetcherRequests.WithLabelValues(op, "success").Inc()
	return succeeded(truncateContent(content))
}

// FetchSingle fetches one repository. A 404 or an item failing validation
// yields a successful nil result.
func (f *Fetcher) FetchSingle(ctx context.Context, fullName string) FetchResult[*models.RawItem] {
	const op = "fetch_single"
	path, err := repoPath(fullName)
	if err != nil {
		return failed[*models.RawItem](err)
	}

	body, err := f.client.get(ctx, op, path)
	if err != nil {
		if IsNotFound(err) {
			metrics.FetcherRequests.WithLabelValues(op, "not_found").Inc()
			return succeeded[*models.RawItem](nil)
		}
		return fallback[*models.RawItem](ctx, f, op, fullName, err)
	}

	var item models.RawItem
	if err := json.Unmarshal(body, &item); err != nil {
		return fallback[*models.RawItem](ctx, f, op, fullName, fmt.Errorf("decode repository: %w", err))
	}
	metrics.FetcherRequests.WithLabelValues(op, "success").Inc()
	if !validRawItem(&item) {
		return succeeded[*models.RawItem](nil)
	}
	return succeeded(&item)
}

// fallback logs the degradation and returns an empty degraded result.
func fallback[T any](ctx context.Context, f *Fetcher, op, subject string, err error) FetchResult[T] {
	f.reportFallback(ctx, op, subject, err)
	return degraded[T](err)
}

func (f *Fetcher) reportFallback(ctx context.Context, op, subject string, err error) {
	metrics.FetcherRequests.WithLabelValues(op, "degraded").Inc()
	logging.Ctx(ctx).Warn().
		Err(err).
		Str("operation", op).
		Str("subject", subject).
		Str("breaker", f.client.BreakerState()).
		Msg("Upstream unavailable, returning fallback result")
	f.reporter.Log(models.LogLevelWarn, logging.RunIDFromContext(ctx),
		fmt.Sprintf("%s for %s unavailable, using fallback: %v", op, subject, err))
}

func validRawItem(item *models.RawItem) bool {
	return validation.ValidateStruct(rawItemShape{
		ID:       item.ID,
		Name:     item.Name,
		FullName: item.FullName,
	}) == nil
}

// repoPath converts owner/repo to an escaped /repos/{owner}/{repo} path.
func repoPath(fullName string) (string, error) {
	if !validation.IsFullName(fullName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFullName, fullName)
	}
	owner, repo, _ := strings.Cut(fullName, "/")
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo), nil
}

// decodeContent decodes a base64 README payload. The upstream wraps the
// encoded text at 60 columns.
func decodeContent(r readmeResponse) (string, error) {
	if r.Encoding != "base64" {
		return r.Content, nil
	}
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(r.Content)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid base64 content: %w", err)
	}
	return string(decoded), nil
}

// truncateContent cuts content longer than MaxEnrichmentChars runes and
// appends TruncationMarker.
func truncateContent(s string) string {
	if utf8.RuneCountInString(s) <= MaxEnrichmentChars {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxEnrichmentChars {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}
