// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP API for the daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/flow-like/core/internal/daemon/httputil"
	"github.com/flow-like/core/internal/log"
	"github.com/flow-like/core/internal/tracing"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// ScheduleStatusProvider provides schedule status for health checks.
type ScheduleStatusProvider interface {
	GetScheduleCount() int
	GetEnabledScheduleCount() int
}

// MetricsHandler provides a Prometheus metrics endpoint
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// ActivityRecorder tracks daemon activity for idle timeout monitoring.
type ActivityRecorder interface {
	RecordActivity()
}

// Router wraps an http.ServeMux with additional functionality.
type Router struct {
	mux              *http.ServeMux
	config           RouterConfig
	scheduleProvider ScheduleStatusProvider
	metricsHandler   MetricsHandler
	activityRecorder ActivityRecorder
	logger           *slog.Logger
}

// SetScheduleProvider sets the schedule status provider.
func (r *Router) SetScheduleProvider(provider ScheduleStatusProvider) {
	r.scheduleProvider = provider
}

// SetMetricsHandler sets the Prometheus metrics handler.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	r.metricsHandler = handler
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// SetActivityRecorder sets the activity recorder for idle timeout tracking.
func (r *Router) SetActivityRecorder(recorder ActivityRecorder) {
	r.activityRecorder = recorder
}

// NewRouter creates a new HTTP router with all API endpoints.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: log.New(log.FromEnv()),
	}

	// Register API v1 endpoints
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Record activity for idle timeout tracking
	if r.activityRecorder != nil {
		r.activityRecorder.RecordActivity()
	}

	// Build middleware chain from innermost to outermost; the last wrapper
	// applied is the first to run:
	// 1. Request logging (innermost)
	// 2. Correlation middleware
	// 3. Tracing middleware (creates spans)
	// 4. HTTP trace context extraction (outermost - runs first)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mux.ServeHTTP(w, req)
	})

	// Apply request logging middleware
	// Capture the inner handler to avoid closure over reassigned variable
	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Log request with correlation ID
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := log.WithCorrelationID(r.logger, string(correlationID))

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		innerHandler.ServeHTTP(w, req)
	})

	// Apply correlation middleware
	handler = tracing.CorrelationMiddleware(handler)

	// Apply tracing middleware to create spans for requests
	handler = tracing.TracingMiddleware(handler)

	// Apply HTTP middleware to extract trace context from headers (must be first)
	handler = tracing.HTTPMiddleware(handler)

	handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "conductord",
		"version": r.config.Version,
	})
}

// handleHealth handles GET /v1/health.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := map[string]any{"status": "ok"}
	if r.scheduleProvider != nil {
		status["schedules"] = map[string]int{
			"total":   r.scheduleProvider.GetScheduleCount(),
			"enabled": r.scheduleProvider.GetEnabledScheduleCount(),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleVersion handles GET /v1/version.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}
