// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/metrics"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	t.Parallel()

	var ctxID, chiID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
		chiID = chimiddleware.GetReqID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	responseID := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("Expected UUID request id, got %q", responseID)
	}
	if ctxID != responseID || chiID != responseID {
		t.Errorf("Expected context ids to match %q, got logging=%q chi=%q", responseID, ctxID, chiID)
	}
}

func TestRequestID_ReusesUpstreamID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"short id reused", "upstream-123", true},
		{"oversized id replaced", strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("X-Request-ID", tt.incoming)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if (got == tt.incoming) != tt.reuse {
				t.Errorf("Expected reuse=%v, got id %q", tt.reuse, got)
			}
		})
	}
}

func sampleCount(t *testing.T, method, route, status string) uint64 {
	t.Helper()
	obs, err := metrics.APIRequestDuration.GetMetricWithLabelValues(method, route, status)
	if err != nil {
		t.Fatal(err)
	}
	var m dto.Metric
	if err := obs.(prometheus.Histogram).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/api/v1/widgets/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := sampleCount(t, http.MethodGet, "/api/v1/widgets/{id}", "418")
	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	if got := sampleCount(t, http.MethodGet, "/api/v1/widgets/{id}", "418") - before; got != 3 {
		t.Errorf("Expected 3 observations under the route pattern, got %d", got)
	}
}

func TestPrometheusMetricsDefaultsStatus(t *testing.T) {
	t.Parallel()

	before := sampleCount(t, http.MethodPost, "unmatched", "200")
	handler := PrometheusMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

	if got := sampleCount(t, http.MethodPost, "unmatched", "200") - before; got != 1 {
		t.Errorf("Expected 1 observation, got %d", got)
	}
}

func TestAccessLogWarnsOnServerError(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "debug", Format: "json", Output: &buf})
	defer logging.Init(logging.DefaultConfig())

	handler := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"status":502`) {
		t.Errorf("Expected warn access log with status 502, got %s", out)
	}
}
