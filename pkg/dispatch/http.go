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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDispatcher sends the dispatch request to a pool of executor HTTP
// endpoints (BackendHTTP) or to an AWS Lambda response-streaming endpoint
// fronted by the same HTTP contract (BackendLambdaStream); both speak the
// executor's invoke contract over HTTP, differing only in upstream routing.
type HTTPDispatcher struct {
	client   *http.Client
	endpoint string
}

// NewHTTPDispatcher builds a dispatcher against a fixed executor endpoint.
// endpoint selection across a pool of executors is an external collaborator
//.
func NewHTTPDispatcher(endpoint string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &HTTPDispatcher{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

func (d *HTTPDispatcher) newRequest(ctx context.Context, req Request, accept string) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dispatch: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Authorization", "Bearer "+req.JWT)
	return httpReq, nil
}

// Invoke performs a non-streaming call and reads the whole JSON body.
func (d *HTTPDispatcher) Invoke(ctx context.Context, backend Backend, req Request) (*Result, error) {
	httpReq, err := d.newRequest(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch: executor call failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: read executor response: %w", err)
	}
	return &Result{StatusCode: resp.StatusCode, Body: out}, nil
}

// InvokeStreaming performs the call and hands the response body, unread, to
// the caller (the Streaming Proxy) for SSE pull-parsing.
func (d *HTTPDispatcher) InvokeStreaming(ctx context.Context, backend Backend, req Request) (*Stream, error) {
	httpReq, err := d.newRequest(ctx, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch: executor call failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		out, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("dispatch: executor returned status %d: %s", resp.StatusCode, out)
	}
	return &Stream{Body: resp.Body}, nil
}
