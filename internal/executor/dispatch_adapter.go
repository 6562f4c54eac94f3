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

package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/dispatch"
)

// LocalAdapter exposes a Server as a dispatch.Executor, for BackendLocalInProcess
// wiring: same process, no JWT round-trip, claims synthesized straight from the
// dispatch.Request.
type LocalAdapter struct {
	server *Server
}

// NewLocalAdapter wraps a Server for in-process dispatch.
func NewLocalAdapter(server *Server) *LocalAdapter {
	return &LocalAdapter{server: server}
}

// Execute implements dispatch.Executor.
func (a *LocalAdapter) Execute(ctx context.Context, req dispatch.Request) (json.RawMessage, error) {
	claims := &auth.Claims{
		RunID:       req.RunID,
		AppID:       req.AppID,
		BoardID:     req.BoardID,
		TokenType:   auth.TokenTypeExecutor,
		CallbackURL: req.CallbackURL,
	}

	result := a.server.Execute(ctx, claims, req)
	if result.Status == "Failed" {
		return nil, fmt.Errorf("executor: run %s failed: %s", req.RunID, result.Error)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("executor: marshal result: %w", err)
	}
	return body, nil
}
