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

// Package runbuilder implements the Run Builder: the single
// entry point invoked by HTTP/cron/webhook/MQTT triggers to stand up a run,
// mint its JWT pair, persist its input payload, and kick off dispatch.
package runbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/credentials"
	"github.com/flow-like/core/pkg/dispatch"
	conductorerrors "github.com/flow-like/core/pkg/errors"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/runstore"
)

// PayloadStore persists the raw invocation input so the executor can fetch it
// by key rather than carrying it through the JWT. A concrete object-store
// implementation is an external collaborator.
type PayloadStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// InvokeParams is everything an HTTP/cron/webhook/MQTT trigger supplies.
type InvokeParams struct {
	AppID   string
	EventID string
	Params  map[string]string
	Query   map[string]string
	Body    json.RawMessage
	UserID  string
	Local   bool // local=true: no dispatch; returns the Pending run and a poll token
	Isolated bool // isolated=true: dispatch to KubernetesJob, non-streaming
}

// Builder wires the Repository, credential derivation, JWT issuance, payload
// persistence, and dispatch routing together into one invoke operation.
type Builder struct {
	repo         graph.Repository
	credentials  *credentials.Cache
	jwtConfig    auth.Config
	payloads     PayloadStore
	runs         *runstore.Registry
	router       *dispatch.Router
	callbackBase string
	defaultBackend dispatch.Backend
}

// Config collects Builder's fixed dependencies.
type Config struct {
	Repository     graph.Repository
	Credentials    *credentials.Cache
	JWTConfig      auth.Config
	Payloads       PayloadStore
	Runs           *runstore.Registry
	Router         *dispatch.Router
	CallbackBase   string
	DefaultBackend dispatch.Backend
}

// New builds a Builder.
func New(cfg Config) *Builder {
	backend := cfg.DefaultBackend
	if backend == "" {
		backend = dispatch.BackendHTTP
	}
	return &Builder{
		repo:           cfg.Repository,
		credentials:    cfg.Credentials,
		jwtConfig:      cfg.JWTConfig,
		payloads:       cfg.Payloads,
		runs:           cfg.Runs,
		router:         cfg.Router,
		callbackBase:   cfg.CallbackBase,
		defaultBackend: backend,
	}
}

// Outcome is what Invoke returns: either a ready-to-forward stream (the
// default path) or a resolved JSON result (local/isolated paths).
type Outcome struct {
	RunID  string
	Stream *dispatch.Stream
	Result *dispatch.Result
}

// Invoke is invoke(app, event, params, query) -> Stream | JSON (
// §4.1). It resolves the event and its board, derives invoke-scoped storage
// credentials, creates the Pending run row, mints the executor/user JWT pair,
// persists the input payload, and dispatches. The row insert completes before
// dispatch starts; the two do not run in parallel.
func (b *Builder) Invoke(ctx context.Context, p InvokeParams) (*Outcome, error) {
	event, err := b.repo.GetEvent(ctx, p.AppID, p.EventID)
	if err != nil {
		return nil, &conductorerrors.RunInitError{Reason: "event lookup failed", Cause: err}
	}
	if event == nil || !event.Active {
		return nil, &conductorerrors.BadRequestError{Field: "event_id", Message: "unknown or inactive event"}
	}

	board, err := b.repo.GetBoard(ctx, p.AppID, event.BoardID, event.BoardVersion)
	if err != nil {
		return nil, &conductorerrors.RunInitError{Reason: "board lookup failed", Cause: err}
	}
	if board == nil {
		return nil, &conductorerrors.BadRequestError{Field: "board_id", Message: "board not found"}
	}

	mode := runstore.ModeHTTP
	backend := b.defaultBackend
	switch {
	case p.Local:
		mode, backend = runstore.ModeLocal, dispatch.BackendLocalInProcess
	case p.Isolated:
		mode, backend = runstore.ModeKubernetesIsolated, dispatch.BackendKubernetesJob
	}

	scope, err := b.credentials.Derive(ctx, p.UserID, p.AppID, credentials.ModeInvokeWrite)
	if err != nil {
		return nil, &conductorerrors.RunInitError{Reason: "credentials derivation failed", Cause: err}
	}

	payloadKey := fmt.Sprintf("tmp/global/apps/%s/runs/%%s/input", p.AppID)
	snap, runCtx := b.runs.Create(ctx, runstore.CreateParams{
		AppID:   p.AppID,
		BoardID: event.BoardID,
		EventID: p.EventID,
		NodeID:  string(event.NodeID),
		Mode:    mode,
	})
	payloadKey = fmt.Sprintf(payloadKey, snap.ID)

	executorJWT, err := auth.IssueExecutorJWT(b.jwtConfig, snap.ID, p.AppID, event.BoardID, p.EventID, b.callbackBase+"/runs/"+snap.ID+"/callback")
	if err != nil {
		return nil, &conductorerrors.RunInitError{RunID: snap.ID, Reason: "executor jwt issuance failed", Cause: err}
	}
	userJWT, err := auth.IssueUserJWT(b.jwtConfig, snap.ID, p.AppID, event.BoardID, p.EventID)
	if err != nil {
		return nil, &conductorerrors.RunInitError{RunID: snap.ID, Reason: "user jwt issuance failed", Cause: err}
	}

	if mode == runstore.ModeLocal {
		// local=true never dispatches: the run stays Pending and userJWT is
		// handed back as the poll token for GET /runs/{run_id}.
		body, _ := json.Marshal(struct {
			RunID     string `json:"run_id"`
			Status    string `json:"status"`
			PollToken string `json:"poll_token"`
		}{RunID: snap.ID, Status: string(runstore.StatusPending), PollToken: userJWT})
		return &Outcome{RunID: snap.ID, Result: &dispatch.Result{StatusCode: http.StatusOK, Body: body}}, nil
	}

	if b.payloads != nil && len(p.Body) > 0 {
		if err := b.payloads.Put(ctx, payloadKey, p.Body); err != nil {
			return nil, &conductorerrors.StorageError{Op: "put", Key: payloadKey, Cause: err}
		}
	}

	eventJSON, _ := json.Marshal(event)
	credsJSON, _ := json.Marshal(scope)

	req := dispatch.Request{
		RunID:           snap.ID,
		AppID:           p.AppID,
		BoardID:         event.BoardID,
		NodeID:          string(event.NodeID),
		EventJSON:       eventJSON,
		Payload:         p.Body,
		UserID:          p.UserID,
		CredentialsJSON: credsJSON,
		JWT:             executorJWT,
		CallbackURL:     b.callbackBase + "/runs/" + snap.ID + "/callback",
		StreamState:     false,
	}

	if err := b.runs.SetRunning(snap.ID); err != nil {
		return nil, &conductorerrors.RunInitError{RunID: snap.ID, Reason: "run state transition failed", Cause: err}
	}

	if mode == runstore.ModeKubernetesIsolated {
		// Isolated dispatch is fire-and-forget: DispatchSync here only confirms
		// the backend accepted the job, it does not wait for the job to finish.
		// The run stays Running; the callback/streaming-proxy path completes it
		// once the isolated job reports back.
		if _, err := b.router.DispatchSync(runCtx, backend, req); err != nil {
			_ = b.runs.Complete(snap.ID, runstore.StatusFailed, err.Error(), 0)
			return nil, &conductorerrors.RunInitError{RunID: snap.ID, Reason: "dispatch failed", Cause: err}
		}
		body, _ := json.Marshal(struct {
			RunID   string `json:"run_id"`
			Backend string `json:"backend"`
		}{RunID: snap.ID, Backend: string(backend)})
		return &Outcome{RunID: snap.ID, Result: &dispatch.Result{StatusCode: http.StatusOK, Body: body}}, nil
	}

	stream, err := b.router.Dispatch(runCtx, backend, req)
	if err != nil {
		_ = b.runs.Complete(snap.ID, runstore.StatusFailed, err.Error(), 0)
		return nil, &conductorerrors.RunInitError{RunID: snap.ID, Reason: "dispatch failed", Cause: err}
	}
	return &Outcome{RunID: snap.ID, Stream: stream}, nil
}

// WriteJSON renders a non-streaming Outcome as an HTTP JSON response.
func WriteJSON(w http.ResponseWriter, result *dispatch.Result) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_, err := w.Write(result.Body)
	return err
}
