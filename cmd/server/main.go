// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/starcatalog/internal/api"
	"github.com/tomtom215/starcatalog/internal/bootstrap"
	"github.com/tomtom215/starcatalog/internal/broadcast"
	"github.com/tomtom215/starcatalog/internal/budget"
	"github.com/tomtom215/starcatalog/internal/cache"
	"github.com/tomtom215/starcatalog/internal/config"
	"github.com/tomtom215/starcatalog/internal/curation"
	"github.com/tomtom215/starcatalog/internal/database"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
	"github.com/tomtom215/starcatalog/internal/ratelimit"
	"github.com/tomtom215/starcatalog/internal/supervisor"
	"github.com/tomtom215/starcatalog/internal/supervisor/services"
	"github.com/tomtom215/starcatalog/internal/sync"
	ws "github.com/tomtom215/starcatalog/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // Sequential wiring of every component
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("version", version).
		Str("github_user", cfg.GitHub.User).
		Str("db_path", cfg.Database.Path).
		Bool("curation", cfg.Curation.Enabled).
		Msg("Starting starcatalog")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	kv, err := budget.OpenBadger(cfg.Badger.Path, cfg.Badger.InMemory)
	if err != nil {
		_ = db.Close()
		logging.Fatal().Err(err).Msg("Failed to open budget store")
	}
	defer closeBadger(kv)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	catalog := cache.NewCatalogCache(db, cfg.Cache.CatalogTTL, cfg.Cache.CleanupInterval)
	broadcaster := broadcast.New(&cfg.Broadcast)

	guard, err := budget.NewGuard(ctx, &cfg.Budget, budget.NewBadgerStore(kv))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize AI budget guard")
		return
	}
	guard.OnAlert(budgetAlertReporter(broadcaster))

	fetcher := sync.NewFetcher(&cfg.GitHub, broadcaster)
	syncManager := sync.NewManager(cfg, catalog, fetcher, broadcaster)

	if cfg.Curation.Enabled {
		curator := curation.NewCurator(&cfg.Curation, curation.NewHTTPProvider(&cfg.Curation), guard, catalog, broadcaster)
		syncManager.SetOnCompleted(curateAfterRun(ctx, curator))
		logging.Info().Str("model", cfg.Curation.Model).Msg("AI curation enabled")
	} else {
		broadcaster.Debugf("", "AI curation disabled, entries keep README content only")
	}

	trigger := bootstrap.New(&cfg.Bootstrap, catalog, syncManager)

	var limits *ratelimit.Registry
	if cfg.RateLimit.Enabled {
		limits = ratelimit.NewRegistry(&cfg.RateLimit)
	}

	stream := ws.NewStreamHandler(broadcaster, cfg.Server.CORSOrigins, api.WriteError)
	handler := api.NewHandler(api.Deps{
		Sync:      syncManager,
		Logs:      broadcaster,
		Bootstrap: trigger,
		Budget:    guard,
		Catalog:   catalog,
		Limits:    limits,
		Breaker:   fetcher,
		Stream:    stream,
		Version:   version,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, api.RouterConfigFrom(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		// The log stream holds connections open, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return
	}

	tree.AddStateService(budget.NewScheduler(guard, cfg.Budget.RolloverInterval))
	if limits != nil {
		tree.AddStateService(limits)
	}
	if sweeper := catalog.Sweeper(); sweeper != nil {
		tree.AddStateService(sweeper)
	}
	tree.AddSyncService(broadcaster.Hub())
	tree.AddSyncService(services.NewLifecycleService("sync-manager", syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)
	broadcaster.Infof("", "Starcatalog %s started, syncing stars of %s", version, cfg.GitHub.User)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for services to stop")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	tree.LogUnstopped()
	logging.Info().Msg("Starcatalog stopped")
}

// budgetAlertReporter forwards budget alerts to the operator log stream.
func budgetAlertReporter(b *broadcast.Broadcaster) budget.AlertFunc {
	return func(a budget.Alert) {
		switch a.Kind {
		case budget.AlertWarn:
			b.Warnf("", "AI token budget at %d of %d tokens (%d remaining)", a.CurrentUsage, a.DailyBudget, a.Remaining)
		case budget.AlertCritical:
			b.Errorf("", "AI token budget low: %d tokens remaining", a.Remaining)
		case budget.AlertExtremelyLow:
			b.Errorf("", "AI token budget nearly exhausted: %d tokens remaining", a.Remaining)
		}
	}
}

// curateAfterRun summarizes new entries after each completed sync run.
func curateAfterRun(ctx context.Context, curator *curation.Curator) func(models.SyncRun) {
	return func(run models.SyncRun) {
		if run.State != models.SyncStateCompleted {
			return
		}
		go func() {
			runCtx := logging.ContextWithRunID(ctx, run.RunID)
			out, err := curator.CurateUnsummarized(runCtx, run.RunID, 0)
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Ctx(runCtx).Error().Err(err).Msg("AI curation failed")
				return
			}
			logging.Ctx(runCtx).Info().
				Int("summarized", out.Summarized).
				Int("failed", out.Failed).
				Str("stop_reason", out.StopReason).
				Msg("AI curation pass finished")
		}()
	}
}

func closeBadger(kv *badger.DB) {
	if err := kv.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing budget store")
	}
}
