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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/dispatch"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/intercom"
	"github.com/flow-like/core/pkg/logstore"
)

// defaultDeadline is the execution-wide timeout.
const defaultDeadline = 15 * time.Minute

// ExecutionResult is what execute(request, config) returns to its caller.
type ExecutionResult struct {
	Status string
	Error  string
}

// Server is the standalone executor binary's HTTP surface: JWT-authenticated
// /execute, speaking SSE back to the Dispatcher.
type Server struct {
	jwtConfig auth.Config
	repo      graph.Repository
	catalog   Catalog
	logs      *logstore.Store
	client    *http.Client
	logger    *slog.Logger
}

// Config wires the Server's dependencies.
type Config struct {
	JWTConfig auth.Config
	Repo      graph.Repository
	Catalog   Catalog
	Logs      *logstore.Store
	Logger    *slog.Logger
}

// NewServer builds the executor HTTP server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jwtConfig: cfg.JWTConfig,
		repo:      cfg.Repo,
		catalog:   cfg.Catalog,
		logs:      cfg.Logs,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// RegisterRoutes wires the executor's one endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /execute", s.handleExecute)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}

	claims, err := auth.VerifyExecutor(token, s.jwtConfig)
	if err != nil {
		// JWT failures are fatal and return before any side effect.
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultDeadline)
	defer cancel()

	result := s.Execute(ctx, claims, req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	fmt.Fprintf(w, "event: completed\ndata: {\"event_type\":\"completed\",\"payload\":{\"status\":%q,\"log_level\":%d}}\n\n", result.Status, claims.LogLevel)
	if flusher != nil {
		flusher.Flush()
	}
}

// Execute runs one board invocation end to end: loads the board, drives the
// graph scheduler, drains the event bus to the callback URL, and flushes log
// metadata — the executor's execute(request, config) -> ExecutionResult
// contract.
func (s *Server) Execute(ctx context.Context, claims *auth.Claims, req dispatch.Request) ExecutionResult {
	board, err := s.repo.GetBoard(ctx, req.AppID, req.BoardID, nil)
	if err != nil {
		return ExecutionResult{Status: "Failed", Error: fmt.Sprintf("board lookup failed: %v", err)}
	}
	if board == nil {
		return ExecutionResult{Status: "Failed", Error: "board not found"}
	}

	callback := s.postCallback(req.CallbackURL, req.JWT)
	bus := intercom.NewHandler(req.RunID, intercom.DefaultConfig(), callback, s.logger)
	busCtx, busCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		bus.Run(busCtx)
		close(done)
	}()

	sched := New(Config{
		Board:    board,
		Catalog:  s.catalog,
		Emitter:  bus,
		RunID:    req.RunID,
		Logger:   s.logger,
		LogLevel: claims.LogLevel,
	})

	var seed map[graph.PinID]graph.Value
	if len(req.Payload) > 0 {
		_ = json.Unmarshal(req.Payload, &seed)
	}

	outcome := sched.Run(ctx, graph.NodeID(req.NodeID), seed)

	if ctx.Err() == context.DeadlineExceeded {
		outcome = Outcome{Status: "Failed", Error: "Execution timeout"}
	}

	bus.FlushNow()
	busCancel()
	<-done

	if s.logs != nil {
		row := logstore.Row{
			RunID:     req.RunID,
			AppID:     req.AppID,
			BoardID:   req.BoardID,
			Level:     claims.LogLevel,
			Message:   fmt.Sprintf("run finished with status %s", outcome.Status),
			CreatedAt: time.Now(),
		}
		if err := s.logs.Flush(context.Background(), req.RunID, req.AppID, req.BoardID, []logstore.Row{row}); err != nil {
			s.logger.Error("executor: log flush failed", "run_id", req.RunID, "error", err)
		}
	}

	return ExecutionResult{Status: outcome.Status, Error: outcome.Error}
}

// postCallback builds the intercom.Callback that POSTs a batch to the run's
// callback URL with the executor JWT.
func (s *Server) postCallback(callbackURL, jwt string) intercom.Callback {
	return func(ctx context.Context, events []intercom.Event) error {
		body, err := json.Marshal(struct {
			Events []intercom.Event `json:"events"`
		}{Events: events})
		if err != nil {
			return fmt.Errorf("marshal batch: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build callback request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+jwt)

		resp, err := s.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("callback request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("callback returned status %d", resp.StatusCode)
		}
		return nil
	}
}
