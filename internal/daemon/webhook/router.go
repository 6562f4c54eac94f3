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

// Package webhook serves EventTypeWebhook sinks: a single
// route per event, authenticated against the sink's stored WebhookSecret,
// that hands the request body straight to the Run Builder.
package webhook

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/flow-like/core/pkg/runbuilder"
	"github.com/flow-like/core/pkg/sink"
)

// Router serves POST /webhooks/{event_id}, verifying the caller's signature
// against the sink's WebhookSecret before invoking the Run Builder.
type Router struct {
	sinks   sink.Store
	builder *runbuilder.Builder
	verify  *GenericHandler
	logger  *slog.Logger
}

// NewRouter builds a webhook Router over the sink store and Run Builder.
func NewRouter(sinks sink.Store, builder *runbuilder.Builder, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, builder: builder, verify: &GenericHandler{}, logger: logger}
}

// RegisterRoutes wires the webhook endpoint onto mux.
func (rt *Router) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/{event_id}", rt.handle)
}

func (rt *Router) handle(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	s, err := rt.sinks.GetSink(r.Context(), eventID)
	if err != nil || s == nil || s.SinkType != sink.TypeWebhook {
		http.Error(w, "unknown webhook", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	secret := ""
	if s.WebhookSecret != nil {
		secret = *s.WebhookSecret
	}
	if secret != "" {
		if err := rt.verify.Verify(r, body, secret); err != nil {
			rt.logger.Warn("webhook: signature verification failed", "event_id", eventID, "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	outcome, err := rt.builder.Invoke(r.Context(), runbuilder.InvokeParams{
		AppID:   s.AppID,
		EventID: eventID,
		Body:    body,
	})
	if err != nil {
		rt.logger.Error("webhook: invoke failed", "event_id", eventID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch {
	case outcome.Result != nil:
		_ = runbuilder.WriteJSON(w, outcome.Result)
	default:
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"run_id":"` + outcome.RunID + `"}`))
	}
}
