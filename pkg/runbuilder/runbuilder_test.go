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

package runbuilder

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/credentials"
	"github.com/flow-like/core/pkg/dispatch"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/runstore"
)

type fakeRepo struct {
	active bool
}

func (f fakeRepo) GetEvent(ctx context.Context, appID, eventID string) (*graph.Event, error) {
	return &graph.Event{ID: eventID, BoardID: "board-1", NodeID: "entry", Active: f.active}, nil
}

func (f fakeRepo) GetBoard(ctx context.Context, appID, boardID string, version *graph.Version) (*graph.Board, error) {
	return &graph.Board{ID: boardID}, nil
}

type fakeCredentialsProvider struct{}

func (fakeCredentialsProvider) Issue(ctx context.Context, sub, appID string, mode credentials.Mode, grants []credentials.PathGrant) ([]byte, error) {
	return []byte("opaque"), nil
}

type fakeExecutor struct{}

func (fakeExecutor) Execute(ctx context.Context, req dispatch.Request) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"Completed"}`), nil
}

func newTestBuilder(t *testing.T, active bool) (*Builder, *MemoryPayloadStore) {
	t.Helper()
	payloads := NewMemoryPayloadStore()
	router := dispatch.NewRouter(map[dispatch.Backend]dispatch.Dispatcher{
		dispatch.BackendLocalInProcess: dispatch.NewLocalDispatcher(fakeExecutor{}),
	})
	return New(Config{
		Repository:     fakeRepo{active: active},
		Credentials:    credentials.NewCache(fakeCredentialsProvider{}, time.Minute),
		JWTConfig:      auth.Config{Secret: []byte("test-secret"), Issuer: "test"},
		Payloads:       payloads,
		Runs:           runstore.New(4),
		Router:         router,
		CallbackBase:   "http://localhost:8080",
		DefaultBackend: dispatch.BackendLocalInProcess,
	}), payloads
}

func TestBuilder_Invoke_Local(t *testing.T) {
	builder, payloads := newTestBuilder(t, true)

	outcome, err := builder.Invoke(context.Background(), InvokeParams{
		AppID:   "app-1",
		EventID: "event-1",
		Body:    json.RawMessage(`{"hello":"world"}`),
		Local:   true,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome.Result == nil {
		t.Fatal("expected a resolved Result for local invoke")
	}

	var body struct {
		RunID     string `json:"run_id"`
		Status    string `json:"status"`
		PollToken string `json:"poll_token"`
	}
	if err := json.Unmarshal(outcome.Result.Body, &body); err != nil {
		t.Fatalf("unmarshal result body: %v", err)
	}
	if body.RunID != outcome.RunID {
		t.Errorf("run_id = %q, want %q", body.RunID, outcome.RunID)
	}
	if body.Status != string(runstore.StatusPending) {
		t.Errorf("status = %q, want %q", body.Status, runstore.StatusPending)
	}
	if body.PollToken == "" {
		t.Error("expected a non-empty poll_token")
	}

	snap, err := builder.runs.Get(outcome.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != runstore.StatusPending {
		t.Errorf("run status = %q, want Pending (local=true must not dispatch)", snap.Status)
	}

	if _, ok := payloads.Get("tmp/global/apps/app-1/runs/" + outcome.RunID + "/input"); ok {
		t.Error("local=true must not persist the input payload")
	}
}

func TestBuilder_Invoke_Isolated(t *testing.T) {
	builder, payloads := newTestBuilder(t, true)
	builder.router = dispatch.NewRouter(map[dispatch.Backend]dispatch.Dispatcher{
		dispatch.BackendKubernetesJob: dispatch.NewLocalDispatcher(fakeExecutor{}),
	})

	outcome, err := builder.Invoke(context.Background(), InvokeParams{
		AppID:    "app-1",
		EventID:  "event-1",
		Body:     json.RawMessage(`{"hello":"world"}`),
		Isolated: true,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome.Result == nil {
		t.Fatal("expected a resolved Result for isolated invoke")
	}

	var body struct {
		RunID   string `json:"run_id"`
		Backend string `json:"backend"`
	}
	if err := json.Unmarshal(outcome.Result.Body, &body); err != nil {
		t.Fatalf("unmarshal result body: %v", err)
	}
	if body.RunID != outcome.RunID {
		t.Errorf("run_id = %q, want %q", body.RunID, outcome.RunID)
	}
	if body.Backend != string(dispatch.BackendKubernetesJob) {
		t.Errorf("backend = %q, want %q", body.Backend, dispatch.BackendKubernetesJob)
	}

	snap, err := builder.runs.Get(outcome.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != runstore.StatusRunning {
		t.Errorf("run status = %q, want Running (isolated dispatch does not complete inline)", snap.Status)
	}

	if _, ok := payloads.Get("tmp/global/apps/app-1/runs/" + outcome.RunID + "/input"); !ok {
		t.Error("expected input payload to be persisted for isolated invoke")
	}
}

func TestBuilder_Invoke_InactiveEventRejected(t *testing.T) {
	builder, _ := newTestBuilder(t, false)

	if _, err := builder.Invoke(context.Background(), InvokeParams{AppID: "app-1", EventID: "event-1", Local: true}); err == nil {
		t.Fatal("expected error for inactive event")
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, &dispatch.Result{StatusCode: 201, Body: json.RawMessage(`{"ok":true}`)})
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if rec.Code != 201 {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}
