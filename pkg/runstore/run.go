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

// Package runstore is the RunRegistry: the in-memory lifecycle record for
// every dispatched run, generalizing a runner.Runner-style
// Run/RunSnapshot split to the control plane's Run model.
package runstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimeout   Status = "Timeout"
)

// Mode is the dispatch backend a run was sent to.
type Mode string

const (
	ModeLocal              Mode = "Local"
	ModeHTTP               Mode = "Http"
	ModeLambdaStream       Mode = "LambdaStream"
	ModeKubernetesIsolated Mode = "KubernetesIsolated"
)

// Run is the mutable lifecycle record. Mutated only by the streaming proxy
// (on terminal events) and the executor callback (progress updates).
type Run struct {
	ID               string     `json:"id"`
	AppID            string     `json:"app_id"`
	BoardID          string     `json:"board_id"`
	EventID          string     `json:"event_id,omitempty"`
	NodeID           string     `json:"node_id"`
	Status           Status     `json:"status"`
	Mode             Mode       `json:"mode"`
	Progress         int        `json:"progress"`
	InputPayloadKey  string     `json:"input_payload_key,omitempty"`
	OutputPayloadLen int64      `json:"output_payload_len"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once
	stopped    chan struct{}
}

// Snapshot is an immutable deep copy of Run state for external access;
// contains no aliasing to internal mutable fields.
type Snapshot struct {
	ID               string     `json:"id"`
	AppID            string     `json:"app_id"`
	BoardID          string     `json:"board_id"`
	EventID          string     `json:"event_id,omitempty"`
	NodeID           string     `json:"node_id"`
	Status           Status     `json:"status"`
	Mode             Mode       `json:"mode"`
	Progress         int        `json:"progress"`
	InputPayloadKey  string     `json:"input_payload_key,omitempty"`
	OutputPayloadLen int64      `json:"output_payload_len"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

func snapshot(r *Run) *Snapshot {
	return &Snapshot{
		ID: r.ID, AppID: r.AppID, BoardID: r.BoardID, EventID: r.EventID, NodeID: r.NodeID,
		Status: r.Status, Mode: r.Mode, Progress: r.Progress, InputPayloadKey: r.InputPayloadKey,
		OutputPayloadLen: r.OutputPayloadLen, ErrorMessage: r.ErrorMessage,
		CreatedAt: r.CreatedAt, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, ExpiresAt: r.ExpiresAt,
	}
}

// CreateParams are the fields Registry.Create needs to insert a new Run row.
type CreateParams struct {
	AppID           string
	BoardID         string
	EventID         string
	NodeID          string
	Mode            Mode
	InputPayloadKey string
	TTL             time.Duration
}

// Registry is the RunRegistry: concurrent map of active Run state plus the
// per-run cancellation token external callers fire via Cancel.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run

	maxParallel int
	semaphore   chan struct{}

	draining atomic.Bool
}

const defaultTTL = 24 * time.Hour

// New builds a Registry. maxParallel bounds cross-run concurrency via a
// semaphore, mirroring runner.Runner's concurrency bound.
func New(maxParallel int) *Registry {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	return &Registry{
		runs:        make(map[string]*Run),
		maxParallel: maxParallel,
		semaphore:   make(chan struct{}, maxParallel),
	}
}

// Create inserts a new Pending run row and returns its ID plus a context tied
// to its cancellation token. The insert is synchronous: the row exists when
// Create returns, and runbuilder.Invoke calls it before dispatch, not in
// parallel with it.
func (reg *Registry) Create(ctx context.Context, p CreateParams) (*Snapshot, context.Context) {
	runID := uuid.New().String()
	ttl := p.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:              runID,
		AppID:           p.AppID,
		BoardID:         p.BoardID,
		EventID:         p.EventID,
		NodeID:          p.NodeID,
		Status:          StatusPending,
		Mode:            p.Mode,
		InputPayloadKey: p.InputPayloadKey,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(ttl),
		ctx:             runCtx,
		cancel:          cancel,
		stopped:         make(chan struct{}),
	}

	reg.mu.Lock()
	reg.runs[runID] = run
	reg.mu.Unlock()

	return snapshot(run), runCtx
}

// Get returns an immutable snapshot of a run by ID.
func (reg *Registry) Get(id string) (*Snapshot, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	run, ok := reg.runs[id]
	if !ok {
		return nil, fmt.Errorf("runstore: run not found: %s", id)
	}
	return snapshot(run), nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status  Status
	AppID   string
	BoardID string
}

// List returns snapshots of all runs matching filter.
func (reg *Registry) List(filter ListFilter) []*Snapshot {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	result := make([]*Snapshot, 0, len(reg.runs))
	for _, r := range reg.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.AppID != "" && r.AppID != filter.AppID {
			continue
		}
		if filter.BoardID != "" && r.BoardID != filter.BoardID {
			continue
		}
		result = append(result, snapshot(r))
	}
	return result
}

// SetRunning transitions a run to Running and stamps StartedAt.
func (reg *Registry) SetRunning(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runs[id]
	if !ok {
		return fmt.Errorf("runstore: run not found: %s", id)
	}
	now := time.Now()
	r.Status = StatusRunning
	r.StartedAt = &now
	return nil
}

// SetProgress updates progress (0..100); not sequenced against events —
// callers must treat it as most-recent-wins.
func (reg *Registry) SetProgress(id string, progress int) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runs[id]
	if !ok {
		return fmt.Errorf("runstore: run not found: %s", id)
	}
	r.Progress = progress
	return nil
}

// Complete transitions a run to a terminal status, recording an error message
// for non-Completed outcomes and the output payload length for Completed.
func (reg *Registry) Complete(id string, status Status, errMessage string, outputLen int64) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runs[id]
	if !ok {
		return fmt.Errorf("runstore: run not found: %s", id)
	}
	now := time.Now()
	r.Status = status
	r.ErrorMessage = errMessage
	r.OutputPayloadLen = outputLen
	r.CompletedAt = &now
	return nil
}

// Cancel fires the run's cancellation token. Idempotent via sync.Once.
// External deletion (DELETE /runs/{id}) calls this; long-running nodes must
// observe the context.
func (reg *Registry) Cancel(id string) error {
	reg.mu.RLock()
	r, ok := reg.runs[id]
	reg.mu.RUnlock()
	if !ok {
		return fmt.Errorf("runstore: run not found: %s", id)
	}
	r.cancelOnce.Do(func() {
		close(r.stopped)
	})
	r.cancel()
	return nil
}

// Acquire blocks until a concurrency slot is free or ctx is cancelled,
// bounding cross-run parallelism: intra-run execution is single-threaded,
// cross-run parallelism comes from running multiple executors.
func (reg *Registry) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case reg.semaphore <- struct{}{}:
		return func() { <-reg.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartDraining prevents new runs from being accepted upstream (callers
// check IsDraining before invoking Create).
func (reg *Registry) StartDraining() { reg.draining.Store(true) }

// IsDraining reports whether the registry is in graceful-shutdown mode.
func (reg *Registry) IsDraining() bool { return reg.draining.Load() }

// ActiveCount returns the number of Pending or Running runs.
func (reg *Registry) ActiveCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	n := 0
	for _, r := range reg.runs {
		if r.Status == StatusPending || r.Status == StatusRunning {
			n++
		}
	}
	return n
}

// WaitForDrain blocks until all active runs finish or timeout elapses.
func (reg *Registry) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			if remaining := reg.ActiveCount(); remaining > 0 {
				return fmt.Errorf("runstore: drain timeout: %d run(s) still active", remaining)
			}
			return nil
		case <-ticker.C:
			if reg.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// SweepExpired removes terminal runs past their ExpiresAt, per // "destroyed by TTL sweep at expires_at".
func (reg *Registry) SweepExpired(now time.Time) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	removed := 0
	for id, r := range reg.runs {
		terminal := r.Status == StatusCompleted || r.Status == StatusFailed ||
			r.Status == StatusCancelled || r.Status == StatusTimeout
		if terminal && now.After(r.ExpiresAt) {
			delete(reg.runs, id)
			removed++
		}
	}
	return removed
}
