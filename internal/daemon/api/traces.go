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

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/flow-like/core/internal/tracing/storage"
	"github.com/flow-like/core/pkg/observability"
)

var errInvalidStatus = errors.New("invalid status")

// TracesHandler exposes the run/node span history captured by the tracing
// store as a read-only admin API.
type TracesHandler struct {
	store *storage.SQLiteStore
}

// NewTracesHandler creates a new traces handler.
func NewTracesHandler(store *storage.SQLiteStore) *TracesHandler {
	return &TracesHandler{store: store}
}

// RegisterRoutes registers trace API routes on the router.
func (h *TracesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/traces", h.ListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", h.GetTrace)
	mux.HandleFunc("GET /v1/traces/{id}/spans", h.GetTraceSpans)
	mux.HandleFunc("GET /v1/runs/{id}/trace", h.GetRunTrace)
}

// parseStatusCode maps the traces API's "ok"/"error" query value onto the
// span status codes stored by the tracing store.
func parseStatusCode(v string) (*observability.StatusCode, error) {
	if v == "" {
		return nil, nil
	}
	switch v {
	case "ok":
		code := observability.StatusCodeOK
		return &code, nil
	case "error":
		code := observability.StatusCodeError
		return &code, nil
	case "unset":
		code := observability.StatusCodeUnset
		return &code, nil
	default:
		return nil, errInvalidStatus
	}
}

// ListTraces handles GET /v1/traces.
func (h *TracesHandler) ListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := parseStatusCode(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status parameter")
		return
	}

	filter := storage.TraceFilter{Status: status}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		filter.Since = &since
	}
	if v := q.Get("until"); v != "" {
		until, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until parameter")
			return
		}
		filter.Until = &until
	}

	traces, err := h.store.ListTraces(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"traces": traces, "count": len(traces)})
}

// GetTrace handles GET /v1/traces/{id}.
func (h *TracesHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "trace id required")
		return
	}

	spans, err := h.store.GetTraceSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(spans) == 0 {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id":   id,
		"spans":      spans,
		"span_count": len(spans),
	})
}

// GetRunTrace handles GET /v1/runs/{id}/trace, resolving a run ID to the
// trace that carried its spans.
func (h *TracesHandler) GetRunTrace(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id required")
		return
	}

	traceID, err := h.store.GetTraceByRunID(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traceID == "" {
		http.Error(w, "trace not found for run", http.StatusNotFound)
		return
	}

	spans, err := h.store.GetTraceSpans(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"trace_id": traceID,
		"spans":    spans,
	})
}

// GetTraceSpans handles GET /v1/traces/{id}/spans.
func (h *TracesHandler) GetTraceSpans(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "trace id required")
		return
	}

	spans, err := h.store.GetTraceSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": id,
		"spans":    spans,
		"count":    len(spans),
	})
}
