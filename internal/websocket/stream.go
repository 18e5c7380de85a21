// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/starcatalog/internal/broadcast"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
	"github.com/tomtom215/starcatalog/internal/models"
)

// LogSource is the part of the broadcaster the stream needs.
type LogSource interface {
	Subscribe(ctx context.Context) (*broadcast.Subscription, error)
	GetSince(afterID int64) []models.LogEntry
}

// ErrorFunc writes an error response before the connection is upgraded.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// StreamHandler upgrades requests and streams log entries.
type StreamHandler struct {
	source   LogSource
	upgrader websocket.Upgrader
	onError  ErrorFunc
}

// NewStreamHandler creates a handler. allowedOrigins restricts the Origin
// header; an empty list or "*" allows any origin.
func NewStreamHandler(source LogSource, allowedOrigins []string, onError ErrorFunc) *StreamHandler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, status int, _, message string) {
			http.Error(w, message, status)
		}
	}
	return &StreamHandler{
		source:  source,
		onError: onError,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ParseSince reads the optional since query parameter. Missing means 0.
func ParseSince(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("since must be a non-negative integer")
	}
	return since, nil
}

// ServeHTTP implements http.Handler. It blocks until the stream ends.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since, err := ParseSince(r)
	if err != nil {
		h.onError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Subscribe before replaying so nothing published in between is lost.
	sub, err := h.source.Subscribe(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, broadcast.ErrHubStopped) {
			status = http.StatusServiceUnavailable
		}
		h.onError(w, r, status, "STREAM_UNAVAILABLE", "log stream unavailable")
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	client := NewClient(conn, sub, since)
	logging.Ctx(r.Context()).Debug().
		Uint64("client", client.ID()).
		Int64("since", since).
		Msg("log stream connected")

	go client.readPump(cancel)
	client.writePump(ctx, h.source.GetSince(since))
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
