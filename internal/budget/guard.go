// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

// Package budget enforces the daily AI-token budget.
//
// Guard.TryConsume is an atomic check-and-update: the sum of all granted
// amounts within one day never exceeds the configured budget, whatever the
// number of concurrent callers. Usage rolls over to zero when the calendar
// date changes in the configured time zone. The check happens lazily on
// every access, and a Scheduler repeats it periodically for quiet days.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
)

const dateLayout = "2006-01-02"

// AlertKind identifies a budget threshold alert.
type AlertKind string

const (
	// AlertWarn fires when usage crosses the warn percentage.
	AlertWarn AlertKind = "warn"
	// AlertCritical fires once when remaining drops below the low threshold.
	AlertCritical AlertKind = "critical"
	// AlertExtremelyLow fires once when remaining drops below half of it.
	AlertExtremelyLow AlertKind = "extremely_low"
)

// Alert is delivered to registered AlertFuncs.
type Alert struct {
	Kind         AlertKind
	CurrentUsage int64
	DailyBudget  int64
	Remaining    int64
	At           time.Time
}

// AlertFunc receives budget alerts. It is called without the guard's lock
// held and may call back into the guard.
type AlertFunc func(Alert)

// ConsumeResult is the outcome of TryConsume.
type ConsumeResult struct {
	Granted      bool  `json:"granted"`
	CurrentUsage int64 `json:"current_usage"`
	DailyBudget  int64 `json:"daily_budget"`
	Remaining    int64 `json:"remaining"`
}

// Guard is the Budget Guard.
type Guard struct {
	mu    sync.Mutex
	state State

	dailyBudget  int64
	warnPercent  float64
	lowThreshold int64
	loc          *time.Location
	store        Store
	now          func() time.Time

	listenersMu sync.RWMutex
	listeners   []AlertFunc
}

// NewGuard creates a guard and restores any saved state. Saved usage from
// an earlier day is discarded.
func NewGuard(ctx context.Context, cfg *config.BudgetConfig, store Store) (*Guard, error) {
	return newGuard(ctx, cfg, store, time.Now)
}

func newGuard(ctx context.Context, cfg *config.BudgetConfig, store Store, now func() time.Time) (*Guard, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid budget timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if store == nil {
		store = NewMemoryStore()
	}

	g := &Guard{
		dailyBudget:  cfg.DailyBudget,
		warnPercent:  cfg.WarnPercent,
		lowThreshold: cfg.LowBudgetThreshold,
		loc:          loc,
		store:        store,
		now:          now,
		state: State{
			LowBudgetAlertArmed: true,
			ExtremelyLowArmed:   true,
		},
	}

	saved, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if saved != nil {
		g.state = *saved
		if g.state.CurrentUsage > g.dailyBudget {
			g.state.CurrentUsage = g.dailyBudget
		}
		logging.Info().
			Int64("usage", saved.CurrentUsage).
			Str("reset_date", saved.ResetDate).
			Msg("Restored AI budget state")
	} else {
		g.state.ResetDate = g.today()
	}

	g.mu.Lock()
	g.rolloverLocked()
	g.publishLocked()
	g.mu.Unlock()
	return g, nil
}

// OnAlert registers fn for all future alerts.
func (g *Guard) OnAlert(fn AlertFunc) {
	g.listenersMu.Lock()
	g.listeners = append(g.listeners, fn)
	g.listenersMu.Unlock()
}

// TryConsume grants amount tokens if the daily budget allows it. A denied
// request leaves the state unchanged. Non-positive amounts are granted
// without changing usage.
func (g *Guard) TryConsume(amount int64) ConsumeResult {
	g.mu.Lock()
	g.rolloverLocked()

	if amount <= 0 {
		res := g.resultLocked(true)
		g.mu.Unlock()
		return res
	}

	if g.state.CurrentUsage+amount > g.dailyBudget {
		res := g.resultLocked(false)
		g.mu.Unlock()
		metrics.BudgetDecisions.WithLabelValues("denied").Inc()
		logging.Debug().
			Int64("requested", amount).
			Int64("remaining", res.Remaining).
			Msg("AI budget request denied")
		return res
	}

	g.state.CurrentUsage += amount
	alerts := g.evaluateAlertsLocked()
	g.saveLocked()
	g.publishLocked()
	res := g.resultLocked(true)
	g.mu.Unlock()

	metrics.BudgetDecisions.WithLabelValues("granted").Inc()
	g.dispatch(alerts)
	return res
}

// Rollover resets usage if the date has changed. It returns true when a
// rollover happened.
func (g *Guard) Rollover() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rolloverLocked()
}

// Reset zeroes usage, sets the reset date to today and re-arms alerts.
func (g *Guard) Reset() models.BudgetStatus {
	g.mu.Lock()
	previous := g.state.CurrentUsage
	g.state.CurrentUsage = 0
	g.state.ResetDate = g.today()
	g.state.WarnFired = false
	g.state.LowBudgetAlertArmed = true
	g.state.ExtremelyLowArmed = true
	g.saveLocked()
	g.publishLocked()
	st := g.statusLocked()
	g.mu.Unlock()

	logging.Info().Int64("previous_usage", previous).Msg("AI budget manually reset")
	return st
}

// Status returns the current budget view.
func (g *Guard) Status() models.BudgetStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.statusLocked()
}

func (g *Guard) today() string {
	return g.now().In(g.loc).Format(dateLayout)
}

func (g *Guard) rolloverLocked() bool {
	today := g.today()
	if g.state.ResetDate == today {
		return false
	}
	previous := g.state.CurrentUsage
	previousDate := g.state.ResetDate
	g.state = State{
		ResetDate:           today,
		LowBudgetAlertArmed: true,
		ExtremelyLowArmed:   true,
	}
	g.saveLocked()
	g.publishLocked()
	logging.Info().
		Str("previous_date", previousDate).
		Str("reset_date", today).
		Int64("previous_usage", previous).
		Msg("AI budget rolled over")
	return true
}

// evaluateAlertsLocked fires each alert on the transition only.
func (g *Guard) evaluateAlertsLocked() []Alert {
	var alerts []Alert
	remaining := g.dailyBudget - g.state.CurrentUsage
	at := g.now()
	mk := func(kind AlertKind) Alert {
		return Alert{Kind: kind, CurrentUsage: g.state.CurrentUsage, DailyBudget: g.dailyBudget, Remaining: remaining, At: at}
	}

	if !g.state.WarnFired && g.dailyBudget > 0 &&
		float64(g.state.CurrentUsage)*100 >= float64(g.dailyBudget)*g.warnPercent {
		g.state.WarnFired = true
		alerts = append(alerts, mk(AlertWarn))
	}
	if g.state.LowBudgetAlertArmed && remaining < g.lowThreshold {
		g.state.LowBudgetAlertArmed = false
		alerts = append(alerts, mk(AlertCritical))
	}
	if g.state.ExtremelyLowArmed && remaining < g.lowThreshold/2 {
		g.state.ExtremelyLowArmed = false
		alerts = append(alerts, mk(AlertExtremelyLow))
	}
	return alerts
}

func (g *Guard) dispatch(alerts []Alert) {
	if len(alerts) == 0 {
		return
	}
	g.listenersMu.RLock()
	listeners := append([]AlertFunc(nil), g.listeners...)
	g.listenersMu.RUnlock()

	for _, a := range alerts {
		metrics.BudgetAlerts.WithLabelValues(string(a.Kind)).Inc()
		ev := logging.Warn()
		if a.Kind != AlertWarn {
			ev = logging.Error()
		}
		ev.Str("kind", string(a.Kind)).
			Int64("usage", a.CurrentUsage).
			Int64("remaining", a.Remaining).
			Int64("daily_budget", a.DailyBudget).
			Msg("AI budget alert")
		for _, fn := range listeners {
			fn(a)
		}
	}
}

func (g *Guard) saveLocked() {
	snapshot := g.state
	if err := g.store.Save(context.Background(), &snapshot); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist AI budget state")
	}
}

func (g *Guard) publishLocked() {
	metrics.SetBudget(g.state.CurrentUsage, g.dailyBudget-g.state.CurrentUsage)
}

func (g *Guard) resultLocked(granted bool) ConsumeResult {
	return ConsumeResult{
		Granted:      granted,
		CurrentUsage: g.state.CurrentUsage,
		DailyBudget:  g.dailyBudget,
		Remaining:    g.dailyBudget - g.state.CurrentUsage,
	}
}

func (g *Guard) statusLocked() models.BudgetStatus {
	percent := 0.0
	if g.dailyBudget > 0 {
		percent = float64(g.state.CurrentUsage) / float64(g.dailyBudget) * 100
	}
	return models.BudgetStatus{
		DailyBudget:         g.dailyBudget,
		CurrentUsage:        g.state.CurrentUsage,
		Remaining:           g.dailyBudget - g.state.CurrentUsage,
		PercentUsed:         percent,
		ResetDate:           g.state.ResetDate,
		LowBudgetAlertArmed: g.state.LowBudgetAlertArmed,
		WarnFired:           g.state.WarnFired,
	}
}
