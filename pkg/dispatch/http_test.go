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

package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPDispatcher_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-jwt" {
			t.Errorf("Authorization header = %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"Completed"}`))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, 0)
	result, err := d.Invoke(context.Background(), BackendHTTP, Request{RunID: "run-1", JWT: "test-jwt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", result.StatusCode)
	}
	if string(result.Body) != `{"status":"Completed"}` {
		t.Errorf("body = %s", result.Body)
	}
}

func TestHTTPDispatcher_InvokeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept header = %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event: completed\ndata: {}\n\n"))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, 0)
	stream, err := d.InvokeStreaming(context.Background(), BackendHTTP, Request{RunID: "run-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Body.Close()
	body, _ := io.ReadAll(stream.Body)
	if len(body) == 0 {
		t.Error("expected non-empty stream body")
	}
}

func TestHTTPDispatcher_InvokeStreaming_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("board not found"))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, 0)
	if _, err := d.InvokeStreaming(context.Background(), BackendHTTP, Request{RunID: "run-1"}); err == nil {
		t.Fatal("expected error for 5xx response")
	}
}
