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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	daemonauth "github.com/flow-like/core/internal/daemon/auth"
	"github.com/flow-like/core/pkg/runbuilder"
	"github.com/flow-like/core/pkg/runstore"
	"github.com/flow-like/core/pkg/streamproxy"
)

// RunsHandler serves the invocation endpoint and run lifecycle
// queries against the Run Builder and RunRegistry.
type RunsHandler struct {
	builder *runbuilder.Builder
	runs    *runstore.Registry
	proxy   *streamproxy.Proxy
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(builder *runbuilder.Builder, runs *runstore.Registry, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{builder: builder, runs: runs, proxy: streamproxy.New(runUpdater{runs}, logger)}
}

// runUpdater adapts runstore.Registry.Complete's typed Status parameter to
// the plain-string shape streamproxy.RunUpdater expects, since the proxy has
// no dependency on the run model's concrete status enum.
type runUpdater struct {
	runs *runstore.Registry
}

func (u runUpdater) Complete(runID, status, errMessage string, outputLen int64) error {
	return u.runs.Complete(runID, runstore.Status(status), errMessage, outputLen)
}

// RegisterRoutes registers run API routes on the router.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /apps/{app_id}/events/{event_id}/invoke", h.handleInvoke)
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("DELETE /v1/runs/{id}", h.handleCancel)
}

// invokeBody is the invoke endpoint's JSON body.
type invokeBody struct {
	Version          *string           `json:"version,omitempty"`
	Payload          json.RawMessage   `json:"payload,omitempty"`
	Token            *string           `json:"token,omitempty"`
	OAuthTokens      json.RawMessage   `json:"oauth_tokens,omitempty"`
	RuntimeVariables map[string]string `json:"runtime_variables,omitempty"`
	ProfileID        *string           `json:"profile_id,omitempty"`
}

// handleInvoke handles POST /apps/{app_id}/events/{event_id}/invoke.
func (h *RunsHandler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("app_id")
	eventID := r.PathValue("event_id")
	if appID == "" || eventID == "" {
		writeError(w, http.StatusBadRequest, "app_id and event_id required")
		return
	}

	var body invokeBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	userID := ""
	if user, ok := daemonauth.UserFromContext(r.Context()); ok {
		userID = user.ID
	}

	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	outcome, err := h.builder.Invoke(r.Context(), runbuilder.InvokeParams{
		AppID:    appID,
		EventID:  eventID,
		Params:   params,
		Query:    params,
		Body:     body.Payload,
		UserID:   userID,
		Local:    r.URL.Query().Get("local") == "true",
		Isolated: r.URL.Query().Get("isolated") == "true",
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case outcome.Result != nil:
		_ = runbuilder.WriteJSON(w, outcome.Result)
	case outcome.Stream != nil:
		if err := h.proxy.Forward(r.Context(), outcome.RunID, outcome.Stream.Body, w); err != nil {
			return
		}
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": outcome.RunID})
	}
}

// handleList handles GET /v1/runs.
func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := runstore.ListFilter{
		Status:  runstore.Status(r.URL.Query().Get("status")),
		AppID:   r.URL.Query().Get("app_id"),
		BoardID: r.URL.Query().Get("board_id"),
	}
	runs := h.runs.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGet handles GET /v1/runs/{id}.
func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run ID required")
		return
	}
	run, err := h.runs.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancel handles DELETE /v1/runs/{id}, firing the run's cancellation
// token.
func (h *RunsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run ID required")
		return
	}
	if err := h.runs.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
