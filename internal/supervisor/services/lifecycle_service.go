// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component that starts background work and stops it
// synchronously. *sync.Manager satisfies it.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// LifecycleService runs a StartStopper for the lifetime of its context.
type LifecycleService struct {
	name      string
	component StartStopper
}

// NewLifecycleService wraps component under name.
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{name: name, component: component}
}

// Serve implements suture.Service. A Start error is returned immediately so
// the supervisor retries with backoff.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	// Stop blocks until in-flight work has finished.
	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *LifecycleService) String() string {
	return s.name
}
