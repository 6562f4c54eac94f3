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

// Package intercom implements the BufferedInterCom event bus:
// it batches events emitted while a board executes and POSTs them to the
// run's callback URL on a size/time threshold, with bounded retry.
package intercom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind is the event taxonomy, extended with "state" for runs that
// opt into stream-state events via DispatchRequest.StreamState.
type Kind string

const (
	KindLog       Kind = "log"
	KindProgress  Kind = "progress"
	KindOutput    Kind = "output"
	KindChunk     Kind = "chunk"
	KindNodeStart Kind = "node_start"
	KindNodeEnd   Kind = "node_end"
	KindError     Kind = "error"
	KindState     Kind = "state" // only emitted when DispatchRequest.StreamState is set
)

// Custom wraps a free-form event kind not covered by the fixed taxonomy.
func Custom(name string) Kind { return Kind(name) }

// Event is one intercom event: an opaque JSON payload plus run-scoped metadata.
type Event struct {
	RunID     string          `json:"run_id"`
	Kind      Kind            `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Sequence  int64           `json:"sequence"`
	CreatedAt time.Time       `json:"created_at"`
}

// Callback delivers one flushed batch. Implementations POST to the run's
// callback URL; tests can substitute a capturing fake.
type Callback func(ctx context.Context, events []Event) error

// Config carries the batching parameters, along with their recommended
// defaults.
type Config struct {
	MaxBatchSize     int
	FlushInterval    time.Duration
	CallbackRetries  int
	BlockOnBackpressure bool
}

// DefaultConfig returns recommended defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:        50,
		FlushInterval:       100 * time.Millisecond,
		CallbackRetries:     3,
		BlockOnBackpressure: true,
	}
}

// Handler is the BufferedInterCom: a queue behind a mutex, flushed by a
// ticker or by size threshold, retried with linear back-off. The queue has
// no capacity limit and Emit never blocks; Config.BlockOnBackpressure is not
// read.
type Handler struct {
	cfg      Config
	callback Callback
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Event
	seq     int64

	flushCh chan struct{}
	doneCh  chan struct{}
}

// NewHandler constructs a Handler bound to one run's callback.
func NewHandler(runID string, cfg Config, callback Callback, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.CallbackRetries <= 0 {
		cfg.CallbackRetries = 3
	}
	h := &Handler{
		cfg:      cfg,
		callback: callback,
		logger:   logger.With(slog.String("run_id", runID), slog.String("component", "intercom")),
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	return h
}

// Run drives the flush ticker until ctx is cancelled. Call
// it in its own goroutine; it returns once a final flush has completed.
func (h *Handler) Run(ctx context.Context) {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.flush(context.Background())
			return
		case <-h.flushCh:
			h.flush(ctx)
		case <-ticker.C:
			h.flush(ctx)
		}
	}
}

// Emit pushes one event onto the queue, triggering an immediate flush signal
// once the queue reaches MaxBatchSize.
func (h *Handler) Emit(kind Kind, runID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("intercom: marshal payload: %w", err)
	}

	h.mu.Lock()
	h.seq++
	ev := Event{
		RunID:     runID,
		Kind:      kind,
		Payload:   raw,
		Sequence:  h.seq,
		CreatedAt: time.Now(),
	}
	h.pending = append(h.pending, ev)
	full := len(h.pending) >= h.cfg.MaxBatchSize
	h.mu.Unlock()

	if full {
		select {
		case h.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// flush drains the pending queue and delivers it via the callback, retrying
// with 100ms * (attempt+1) back-off up to CallbackRetries times. On hard
// failure the batch is dropped with a warning — transient callback failures
// never surface to the caller.
func (h *Handler) flush(ctx context.Context) {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.pending
	h.pending = nil
	h.mu.Unlock()

	var err error
	for attempt := 0; attempt <= h.cfg.CallbackRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				h.logger.Warn("dropping batch: context cancelled during retry back-off", slog.Int("events", len(batch)))
				return
			}
		}
		err = h.callback(ctx, batch)
		if err == nil {
			return
		}
		h.logger.Debug("intercom flush attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
	}

	h.logger.Warn("dropping event batch after exhausting retries", slog.Int("events", len(batch)), slog.Any("error", err))
}

// Wait blocks until Run has performed its final flush and returned. Callers
// stop the Handler by cancelling the context passed to Run — cancellation is
// the "close the sender" signal, and Run's shutdown path always flushes once
// more before returning.
func (h *Handler) Wait() {
	<-h.doneCh
}

// FlushNow requests an out-of-cycle flush without waiting for the ticker or
// the batch-size threshold. Used by the executor to drain remaining events
// once a run finishes.
func (h *Handler) FlushNow() {
	select {
	case h.flushCh <- struct{}{}:
	default:
	}
}
