// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package models

// BudgetStatus is a point-in-time view of the daily AI-token budget.
type BudgetStatus struct {
	DailyBudget         int64   `json:"daily_budget"`
	CurrentUsage        int64   `json:"current_usage"`
	Remaining           int64   `json:"remaining"`
	PercentUsed         float64 `json:"percent_used"`
	ResetDate           string  `json:"reset_date"`
	LowBudgetAlertArmed bool    `json:"low_budget_alert_armed"`
	WarnFired           bool    `json:"warn_fired"`
}

// BootstrapResult is the outcome of a bootstrap trigger attempt.
type BootstrapResult struct {
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason"`
	RunID     string `json:"run_id,omitempty"`
}
