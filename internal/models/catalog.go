// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package models holds the data types shared between the fetcher, the sync
// orchestrator, the store and the HTTP layer.
package models

import "time"

// SyncStatus is the per-entry synchronization state.
type SyncStatus string

const (
	SyncStatusUnsynced SyncStatus = "UNSYNCED"
	SyncStatusSynced   SyncStatus = "SYNCED"
	SyncStatusFailed   SyncStatus = "FAILED"
)

// CatalogEntry is one starred repository. ExternalID is the upsert key.
type CatalogEntry struct {
	ExternalID        int64      `json:"external_id"`
	Name              string     `json:"name"`
	FullName          string     `json:"full_name"`
	Description       string     `json:"description,omitempty"`
	URL               string     `json:"url"`
	Homepage          string     `json:"homepage,omitempty"`
	PrimaryLanguage   string     `json:"primary_language,omitempty"`
	IsFork            bool       `json:"is_fork"`
	PopularityCount   int        `json:"popularity_count"`
	Topics            []string   `json:"topics"`
	EnrichmentContent *string    `json:"enrichment_content,omitempty"`
	AISummary         *string    `json:"ai_summary,omitempty"`
	UpstreamUpdatedAt string     `json:"upstream_updated_at,omitempty"`
	SyncStatus        SyncStatus `json:"sync_status"`
	LastSyncAttempt   *time.Time `json:"last_sync_attempt,omitempty"`
	SyncErrorMessage  string     `json:"sync_error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasEnrichment reports whether enrichment content is present.
func (e *CatalogEntry) HasEnrichment() bool {
	return e.EnrichmentContent != nil
}

// RawItem is a repository as returned by the upstream API. ID is a pointer
// so a missing identity can be told apart from zero.
type RawItem struct {
	ID              *int64   `json:"id"`
	Name            string   `json:"name"`
	FullName        string   `json:"full_name"`
	Description     *string  `json:"description"`
	HTMLURL         string   `json:"html_url"`
	Homepage        *string  `json:"homepage"`
	Language        *string  `json:"language"`
	Fork            bool     `json:"fork"`
	StargazersCount int      `json:"stargazers_count"`
	Topics          []string `json:"topics"`
	UpdatedAt       string   `json:"updated_at"`
}

// ApplyTo copies the upstream-owned fields onto an entry. Enrichment and
// sync bookkeeping fields are left alone.
func (r *RawItem) ApplyTo(e *CatalogEntry) {
	if r.ID != nil {
		e.ExternalID = *r.ID
	}
	e.Name = r.Name
	e.FullName = r.FullName
	e.Description = deref(r.Description)
	e.URL = r.HTMLURL
	e.Homepage = deref(r.Homepage)
	e.PrimaryLanguage = deref(r.Language)
	e.IsFork = r.Fork
	e.PopularityCount = r.StargazersCount
	e.Topics = dedupeTopics(r.Topics)
	e.UpstreamUpdatedAt = r.UpdatedAt
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// dedupeTopics keeps the first occurrence of each topic, preserving order.
func dedupeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
