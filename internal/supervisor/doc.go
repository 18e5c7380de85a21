// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

/*
Package supervisor runs the long-lived services of starcatalog under a
suture v4 tree.

	starcatalog
	├── state-layer
	│   ├── budget-scheduler
	│   └── ratelimit-cleanup
	├── sync-layer
	│   ├── broadcast-hub
	│   └── sync-manager
	└── api-layer
	    └── http-server

Crashed services restart with suture's backoff. Supervisor events are logged
through sutureslog using the slog bridge from internal/logging.

Adapters for services that do not implement suture.Service directly live in
the services subpackage.
*/
package supervisor
