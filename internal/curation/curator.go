// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package curation writes short AI summaries for catalog entries. Every
// provider call is paid for up front through the daily token budget.
package curation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/starcatalog/internal/budget"
	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
)

const systemPrompt = "You write one-paragraph summaries of software repositories for a personal catalog. " +
	"Describe what the project does and who would use it. Plain text, no markdown."

// maxPromptContent bounds how much README text goes into a prompt.
const maxPromptContent = 6000

// Skip reasons reported in Outcome.
const (
	ReasonBudgetExhausted = "budget-exhausted"
	ReasonNoContent       = "no-content"
)

// ErrBudgetExhausted is returned by Summarize when the budget denies the call.
var ErrBudgetExhausted = errors.New("ai budget exhausted")

// Store is the subset of the catalog store the curator needs.
type Store interface {
	ListUnsummarized(ctx context.Context, limit int) ([]models.CatalogEntry, error)
	UpdateAISummary(ctx context.Context, externalID int64, summary string) error
	MarkCurationAttempted(ctx context.Context, externalID int64, at time.Time) error
}

// Budget grants token spending.
type Budget interface {
	TryConsume(amount int64) budget.ConsumeResult
}

// Reporter receives operator-facing log lines.
type Reporter interface {
	Log(level models.LogLevel, runID, message string)
}

// Outcome summarizes one CurateUnsummarized pass.
type Outcome struct {
	Considered int    `json:"considered"`
	Summarized int    `json:"summarized"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Curator generates and stores summaries.
type Curator struct {
	provider  Provider
	budget    Budget
	store     Store
	reporter  Reporter
	maxOutput int
	batchSize int
}

// NewCurator creates a curator. reporter may be nil.
func NewCurator(cfg *config.CurationConfig, provider Provider, b Budget, store Store, reporter Reporter) *Curator {
	maxOutput := cfg.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = 256
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	return &Curator{
		provider:  provider,
		budget:    b,
		store:     store,
		reporter:  reporter,
		maxOutput: maxOutput,
		batchSize: batch,
	}
}

// EstimateTokens approximates the cost of a prompt: four characters per
// input token plus the full output allowance.
func (c *Curator) EstimateTokens(prompt string) int64 {
	return int64(len(prompt)/4 + c.maxOutput)
}

// Summarize generates and stores a summary for entry. It returns
// ErrBudgetExhausted without calling the provider when the budget denies the
// estimated cost.
func (c *Curator) Summarize(ctx context.Context, entry *models.CatalogEntry) (string, error) {
	prompt := buildPrompt(entry)
	estimate := c.EstimateTokens(prompt)

	res := c.budget.TryConsume(estimate)
	if !res.Granted {
		metrics.CurationOutcomes.WithLabelValues("budget_exhausted").Inc()
		logging.Ctx(ctx).Debug().
			Str("repo", entry.FullName).
			Int64("estimate", estimate).
			Int64("remaining", res.Remaining).
			Msg("Skipping summary, budget exhausted")
		return "", ErrBudgetExhausted
	}

	summary, err := c.provider.Complete(ctx, prompt, c.maxOutput)
	if err != nil {
		metrics.CurationOutcomes.WithLabelValues("provider_error").Inc()
		return "", fmt.Errorf("summarize %s: %w", entry.FullName, err)
	}

	if err := c.store.UpdateAISummary(ctx, entry.ExternalID, summary); err != nil {
		metrics.CurationOutcomes.WithLabelValues("store_error").Inc()
		return "", fmt.Errorf("store summary for %s: %w", entry.FullName, err)
	}

	metrics.CurationOutcomes.WithLabelValues("stored").Inc()
	entry.AISummary = &summary
	return summary, nil
}

// CurateUnsummarized summarizes up to limit entries that have enrichment
// content but no summary. It stops early when the budget runs out. A
// non-positive limit uses the configured batch size.
func (c *Curator) CurateUnsummarized(ctx context.Context, runID string, limit int) (Outcome, error) {
	if limit <= 0 {
		limit = c.batchSize
	}
	entries, err := c.store.ListUnsummarized(ctx, limit)
	if err != nil {
		return Outcome{}, fmt.Errorf("list unsummarized entries: %w", err)
	}

	var out Outcome
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		entry := &entries[i]
		out.Considered++

		if entry.EnrichmentContent == nil || strings.TrimSpace(*entry.EnrichmentContent) == "" {
			if strings.TrimSpace(entry.Description) == "" {
				out.Skipped++
				c.markAttempted(ctx, entry)
				continue
			}
		}

		if _, err := c.Summarize(ctx, entry); err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				out.StopReason = ReasonBudgetExhausted
				c.log(models.LogLevelWarn, runID, "AI curation paused: daily token budget exhausted")
				break
			}
			out.Failed++
			c.markAttempted(ctx, entry)
			logging.Ctx(ctx).Warn().Err(err).Str("repo", entry.FullName).Msg("Summary failed")
			c.log(models.LogLevelWarn, runID, fmt.Sprintf("AI summary failed for %s", entry.FullName))
			continue
		}
		out.Summarized++
	}

	if out.Considered > 0 {
		c.log(models.LogLevelInfo, runID, fmt.Sprintf("AI curation finished: %d summarized, %d failed, %d skipped",
			out.Summarized, out.Failed, out.Skipped))
	}
	return out, nil
}

// markAttempted moves entry behind untried ones in the next batch.
func (c *Curator) markAttempted(ctx context.Context, entry *models.CatalogEntry) {
	if err := c.store.MarkCurationAttempted(ctx, entry.ExternalID, time.Now()); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("repo", entry.FullName).Msg("Failed to record curation attempt")
	}
}

func (c *Curator) log(level models.LogLevel, runID, msg string) {
	if c.reporter != nil {
		c.reporter.Log(level, runID, msg)
	}
}

func buildPrompt(entry *models.CatalogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", entry.FullName)
	if entry.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", entry.Description)
	}
	if entry.PrimaryLanguage != "" {
		fmt.Fprintf(&b, "Language: %s\n", entry.PrimaryLanguage)
	}
	if len(entry.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(entry.Topics, ", "))
	}
	if entry.EnrichmentContent != nil && *entry.EnrichmentContent != "" {
		content := *entry.EnrichmentContent
		if runes := []rune(content); len(runes) > maxPromptContent {
			content = string(runes[:maxPromptContent])
		}
		b.WriteString("\nREADME:\n")
		b.WriteString(content)
	}
	return b.String()
}
