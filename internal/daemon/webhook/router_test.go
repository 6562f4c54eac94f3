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

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/credentials"
	"github.com/flow-like/core/pkg/dispatch"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/runbuilder"
	"github.com/flow-like/core/pkg/runstore"
	"github.com/flow-like/core/pkg/sink"
)

type fakeRepo struct{}

func (fakeRepo) GetBoard(ctx context.Context, appID, boardID string, version *graph.Version) (*graph.Board, error) {
	return &graph.Board{ID: boardID}, nil
}

func (fakeRepo) GetEvent(ctx context.Context, appID, eventID string) (*graph.Event, error) {
	return &graph.Event{ID: eventID, BoardID: "board-1", NodeID: "entry", Active: true}, nil
}

type fakeCredentialsProvider struct{}

func (fakeCredentialsProvider) Issue(ctx context.Context, sub, appID string, mode credentials.Mode, grants []credentials.PathGrant) ([]byte, error) {
	return []byte("opaque"), nil
}

type fakeSinkStore struct {
	s *sink.Sink
}

func (f fakeSinkStore) UpsertEvent(ctx context.Context, event *graph.Event) error { return nil }
func (f fakeSinkStore) UpsertSink(ctx context.Context, s *sink.Sink) error        { return nil }
func (f fakeSinkStore) GetSink(ctx context.Context, eventID string) (*sink.Sink, error) {
	return f.s, nil
}
func (f fakeSinkStore) DeleteSink(ctx context.Context, eventID string) error  { return nil }
func (f fakeSinkStore) DeleteEvent(ctx context.Context, eventID string) error { return nil }

type fakeExecutor struct{}

func (fakeExecutor) Execute(ctx context.Context, req dispatch.Request) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"Completed"}`), nil
}

func newTestBuilder(t *testing.T) *runbuilder.Builder {
	t.Helper()
	localDispatcher := dispatch.NewLocalDispatcher(fakeExecutor{})
	router := dispatch.NewRouter(map[dispatch.Backend]dispatch.Dispatcher{
		dispatch.BackendHTTP: localDispatcher,
	})
	return runbuilder.New(runbuilder.Config{
		Repository:     fakeRepo{},
		Credentials:    credentials.NewCache(fakeCredentialsProvider{}, time.Minute),
		JWTConfig:      auth.Config{Secret: []byte("test-secret"), Issuer: "test"},
		Runs:           runstore.New(4),
		Router:         router,
		CallbackBase:   "http://localhost:8080",
		DefaultBackend: dispatch.BackendHTTP,
	})
}

func TestRouter_RejectsBadSignature(t *testing.T) {
	secret := "whsec_test"
	s := &sink.Sink{EventID: "evt-1", AppID: "app-1", SinkType: sink.TypeWebhook, WebhookSecret: &secret}
	rt := NewRouter(fakeSinkStore{s: s}, newTestBuilder(t), nil)

	mux := http.NewServeMux()
	rt.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/evt-1", strings.NewReader(`{"hello":"world"}`))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouter_AcceptsValidSignature(t *testing.T) {
	secret := "whsec_test"
	s := &sink.Sink{EventID: "evt-1", AppID: "app-1", SinkType: sink.TypeWebhook, WebhookSecret: &secret}
	rt := NewRouter(fakeSinkStore{s: s}, newTestBuilder(t), nil)

	mux := http.NewServeMux()
	rt.RegisterRoutes(mux)

	body := []byte(`{"hello":"world"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/evt-1", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", sig)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted && rec.Code != http.StatusOK {
		t.Fatalf("expected success status, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_UnknownEventReturns404(t *testing.T) {
	rt := NewRouter(fakeSinkStore{s: nil}, newTestBuilder(t), nil)

	mux := http.NewServeMux()
	rt.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/missing", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
