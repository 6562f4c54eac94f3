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
	"strconv"

	"github.com/flow-like/core/pkg/scheduler"
	"github.com/flow-like/core/pkg/sink"
)

// ScheduleLimiter releases any per-event rate-limit bucket held for a
// deleted schedule. Satisfied by the daemon's cron trigger rate limiter;
// narrowed here so this package never depends on the daemon package.
type ScheduleLimiter interface {
	Forget(eventID string)
}

// SchedulesHandler exposes the Scheduler Backend as an admin
// API, keyed by event_id rather than schedule name since event_id is the
// variants' shared unique key.
type SchedulesHandler struct {
	backend scheduler.Backend
	sinks   *sink.Registry
	limiter ScheduleLimiter
}

// NewSchedulesHandler creates a new schedules handler. sinks and limiter may
// be nil, in which case DELETE is refused / skips limiter cleanup.
func NewSchedulesHandler(backend scheduler.Backend, sinks *sink.Registry, limiter ScheduleLimiter) *SchedulesHandler {
	return &SchedulesHandler{backend: backend, sinks: sinks, limiter: limiter}
}

// RegisterRoutes registers schedule API routes on the router.
func (h *SchedulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/schedules", h.handleList)
	mux.HandleFunc("GET /v1/schedules/{event_id}", h.handleGet)
	mux.HandleFunc("POST /v1/schedules/{event_id}/enable", h.handleEnable)
	mux.HandleFunc("POST /v1/schedules/{event_id}/disable", h.handleDisable)
	mux.HandleFunc("DELETE /v1/schedules/{event_id}", h.handleDelete)
}

// handleList returns every schedule known to the backend.
func (h *SchedulesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []scheduler.Info{}})
		return
	}

	limit, offset := 0, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}

	schedules, err := h.backend.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// handleGet returns one event's schedule.
func (h *SchedulesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id required")
		return
	}
	if h.backend == nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	info, err := h.backend.GetSchedule(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEnable enables a schedule.
func (h *SchedulesHandler) handleEnable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// handleDisable disables a schedule.
func (h *SchedulesHandler) handleDisable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *SchedulesHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	eventID := r.PathValue("event_id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id required")
		return
	}
	if h.backend == nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	var err error
	status := "disabled"
	if enabled {
		err = h.backend.EnableSchedule(r.Context(), eventID)
		status = "enabled"
	} else {
		err = h.backend.DisableSchedule(r.Context(), eventID)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// handleDelete handles DELETE /v1/schedules/{event_id}: tears down the
// schedule, sink, and event rows together, then releases the event's cron
// trigger rate-limit bucket.
func (h *SchedulesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id required")
		return
	}
	if h.sinks == nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	if err := h.sinks.DeleteEventWithSink(r.Context(), eventID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(eventID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
