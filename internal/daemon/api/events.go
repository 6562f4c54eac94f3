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
	"net/http"
	"time"

	"github.com/flow-like/core/internal/tracing/storage"
	"github.com/flow-like/core/pkg/observability"
)

// EventsHandler exposes span events recorded by the tracing store.
type EventsHandler struct {
	store *storage.SQLiteStore
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(store *storage.SQLiteStore) *EventsHandler {
	return &EventsHandler{store: store}
}

// RegisterRoutes registers event API routes on the router.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/events", h.ListEvents)
}

// ListEvents handles GET /v1/events. A trace_id is required to scope the
// query to the spans the tracing store actually indexes by; since filters
// events that occurred at or after the given time.
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	traceID := q.Get("trace_id")

	var since time.Time
	if v := q.Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}

	if traceID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"events": []observability.Event{}, "count": 0})
		return
	}

	spans, err := h.store.GetTraceSpans(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events := make([]observability.Event, 0)
	for _, span := range spans {
		for _, event := range span.Events {
			if !since.IsZero() && event.Timestamp.Before(since) {
				continue
			}
			events = append(events, event)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
