// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

/*
Package services adapts starcatalog components to suture.Service.

Components that already expose Serve(ctx) error (broadcast.Hub,
budget.Scheduler, ratelimit.Registry) are added to the tree directly. The
adapters here cover the two remaining lifecycles:

  - HTTPServerService: ListenAndServe / Shutdown
  - LifecycleService: Start(ctx) / Stop(), used for sync.Manager

Example:

	tree.AddSyncService(services.NewLifecycleService("sync-manager", syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
*/
package services
