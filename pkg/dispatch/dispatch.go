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

// Package dispatch implements the Dispatcher: it hands a run
// off to one of four execution backends and, for streaming backends, returns
// the raw byte stream for the Streaming Proxy to consume.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Backend names the execution surface a run is sent to.
type Backend string

const (
	BackendHTTP           Backend = "Http"
	BackendLambdaStream   Backend = "LambdaStream"
	BackendKubernetesJob  Backend = "KubernetesJob"
	BackendLocalInProcess Backend = "LocalInProcess"
)

// Request carries everything a backend needs to start an executor run.
// Field set mirrors exactly.
type Request struct {
	RunID              string
	AppID              string
	BoardID            string
	BoardVersion       *string
	NodeID             string
	EventJSON          json.RawMessage
	Payload            json.RawMessage
	UserID             string
	CredentialsJSON    json.RawMessage
	JWT                string
	CallbackURL        string
	Token              *string
	OAuthTokensJSON    json.RawMessage
	StreamState        bool
	RuntimeVariables   json.RawMessage
	UserContext        json.RawMessage
	Profile            json.RawMessage
}

// Result is what a non-streaming dispatch yields directly.
type Result struct {
	StatusCode int
	Body       json.RawMessage
}

// Stream is what a streaming dispatch yields: the raw upstream body, left
// for the Streaming Proxy to pull-parse.
type Stream struct {
	Body io.ReadCloser
}

// Dispatcher is the narrow, backend-agnostic interface the Run Builder
// depends on. Concrete backends (HTTP executor pool, Lambda response
// streaming, Kubernetes Job, local in-process) are external collaborators;
// this mirrors an ExecutionAdapter-style seam.
type Dispatcher interface {
	// Invoke performs a non-streaming dispatch (local/isolated modes where the
	// caller only wants the final JSON result).
	Invoke(ctx context.Context, backend Backend, req Request) (*Result, error)
	// InvokeStreaming performs a streaming dispatch (the default mode), whose
	// body the Streaming Proxy consumes.
	InvokeStreaming(ctx context.Context, backend Backend, req Request) (*Stream, error)
}

// Router delegates a dispatch to the Dispatcher registered for the Backend
// the caller names; it does not choose the Backend itself. A single Dispatcher implementation may serve more than one
// Backend value (e.g. the same HTTP client serves both BackendHTTP and
// BackendLambdaStream, which differ only in how the response is framed).
type Router struct {
	dispatchers map[Backend]Dispatcher
}

// NewRouter builds a Router over per-backend Dispatcher implementations.
func NewRouter(byBackend map[Backend]Dispatcher) *Router {
	return &Router{dispatchers: byBackend}
}

// Dispatch sends req to backend, streaming. Returns an error if no
// dispatcher is registered for backend.
func (r *Router) Dispatch(ctx context.Context, backend Backend, req Request) (*Stream, error) {
	d, ok := r.dispatchers[backend]
	if !ok {
		return nil, fmt.Errorf("dispatch: no dispatcher registered for backend %q", backend)
	}
	return d.InvokeStreaming(ctx, backend, req)
}

// DispatchSync sends req to backend, non-streaming (local/isolated modes).
func (r *Router) DispatchSync(ctx context.Context, backend Backend, req Request) (*Result, error) {
	d, ok := r.dispatchers[backend]
	if !ok {
		return nil, fmt.Errorf("dispatch: no dispatcher registered for backend %q", backend)
	}
	return d.Invoke(ctx, backend, req)
}
