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
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Executor is the local in-process graph runner; internal/executor satisfies
// it. Kept narrow so dispatch never imports the scheduler/graph-walk logic
// directly.
type Executor interface {
	Execute(ctx context.Context, req Request) (json.RawMessage, error)
}

// LocalDispatcher implements Dispatcher for BackendLocalInProcess: the run
// executes in the same process as the Run Builder, used for local=true
// invocations and development.
type LocalDispatcher struct {
	executor Executor
}

// NewLocalDispatcher builds a dispatcher that runs boards in-process.
func NewLocalDispatcher(executor Executor) *LocalDispatcher {
	return &LocalDispatcher{executor: executor}
}

// Invoke runs the board synchronously and returns its final output.
func (d *LocalDispatcher) Invoke(ctx context.Context, backend Backend, req Request) (*Result, error) {
	out, err := d.executor.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: local execute: %w", err)
	}
	return &Result{StatusCode: 200, Body: out}, nil
}

// InvokeStreaming wraps the synchronous result in a single-chunk stream, so
// local dispatch can still be consumed through the Streaming Proxy when a
// caller asks for SSE framing.
func (d *LocalDispatcher) InvokeStreaming(ctx context.Context, backend Backend, req Request) (*Stream, error) {
	out, err := d.executor.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: local execute: %w", err)
	}
	frame := fmt.Sprintf("event: completed\ndata: %s\n\n", out)
	return &Stream{Body: io.NopCloser(strings.NewReader(frame))}, nil
}
