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

// Package streamproxy pulls SSE records off an executor's response body,
// forwards them verbatim to the caller, and watches for the terminal
// "completed" event to update the run row out of band.
package streamproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Record is one parsed SSE record: an optional event name and its data field.
type Record struct {
	Event string
	Data  string
}

// ExtractRecord scans buf for the next "\n\n"-terminated SSE record. It
// returns the parsed record, the remaining unconsumed bytes, and whether a
// complete record was found. Kept as a standalone function (rather than
// inlined in the copy loop) so it can parse partial reads deterministically
// regardless of how the upstream chunks its writes.
func ExtractRecord(buf []byte) (rec Record, rest []byte, ok bool) {
	idx := bytes.Index(buf, []byte("\n\n"))
	if idx < 0 {
		return Record{}, buf, false
	}

	raw := buf[:idx]
	rest = buf[idx+2:]

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			rec.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	rec.Data = strings.Join(data, "\n")
	return rec, rest, true
}

// completedEnvelope is the shape of a "completed" event's data field: the
// event type is repeated inside the JSON body alongside a nested payload, so
// both the SSE "event:" line and the embedded event_type agree.
type completedEnvelope struct {
	EventType string           `json:"event_type"`
	Payload   completedPayload `json:"payload"`
}

// completedPayload is extracted from a "completed" event's nested payload
// object to update the run row without blocking the forwarded stream.
type completedPayload struct {
	Status   string `json:"status"`
	LogLevel int    `json:"log_level"`
}

// RunUpdater is the run-row side effect a "completed" event triggers.
// Implemented by pkg/runstore.Registry in the wired daemon.
type RunUpdater interface {
	Complete(runID string, status string, errMessage string, outputLen int64) error
}

// Proxy forwards an executor's SSE body to an http.ResponseWriter, verbatim,
// record by record.
type Proxy struct {
	logger       *slog.Logger
	keepAlive    time.Duration
	updater      RunUpdater
}

// New builds a Proxy that sends a keep-alive ping every second.
func New(updater RunUpdater, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{logger: logger, keepAlive: time.Second, updater: updater}
}

// Forward copies body's SSE records onto w as they arrive, growing an
// internal buffer across partial reads, re-emitting each record verbatim the
// instant it's complete. On a "completed" event it updates the run row
// asynchronously so the update never adds latency to the forwarded bytes. On
// a read error from body it emits a terminal "event: error" record and
// returns.
func (p *Proxy) Forward(ctx context.Context, runID string, body io.ReadCloser, w http.ResponseWriter) error {
	defer body.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	readErr := make(chan error, 1)
	chunks := make(chan []byte, 16)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				if err == io.EOF {
					readErr <- nil
				} else {
					readErr <- err
				}
				close(chunks)
				return
			}
		}
	}()

	var pending []byte
	ticker := time.NewTicker(p.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return fmt.Errorf("streamproxy: write keep-alive: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}

		case chunk, open := <-chunks:
			if !open {
				continue
			}
			pending = append(pending, chunk...)
			for {
				rec, rest, ok := ExtractRecord(pending)
				if !ok {
					break
				}
				p.emit(w, flusher, pending[:len(pending)-len(rest)])
				pending = rest
				if rec.Event == "completed" {
					p.handleCompleted(runID, rec)
				}
			}

		case err := <-readErr:
			for chunk := range chunks {
				pending = append(pending, chunk...)
				for {
					rec, rest, ok := ExtractRecord(pending)
					if !ok {
						break
					}
					p.emit(w, flusher, pending[:len(pending)-len(rest)])
					pending = rest
					if rec.Event == "completed" {
						p.handleCompleted(runID, rec)
					}
				}
			}
			if err != nil {
				p.logger.Error("streamproxy: upstream read failed", "run_id", runID, "error", err)
				io.WriteString(w, "event: error\ndata: {\"message\":\"upstream stream interrupted\"}\n\n")
				if flusher != nil {
					flusher.Flush()
				}
				return fmt.Errorf("streamproxy: upstream read: %w", err)
			}
			return nil
		}
	}
}

func (p *Proxy) emit(w http.ResponseWriter, flusher http.Flusher, raw []byte) {
	w.Write(raw)
	if flusher != nil {
		flusher.Flush()
	}
}

// handleCompleted updates the run row in a detached goroutine so the
// terminal event still reaches the caller without waiting on the DB write.
func (p *Proxy) handleCompleted(runID string, rec Record) {
	var envelope completedEnvelope
	if err := json.Unmarshal([]byte(rec.Data), &envelope); err != nil {
		p.logger.Warn("streamproxy: malformed completed payload", "run_id", runID, "error", err)
		return
	}
	if p.updater == nil {
		return
	}
	go func() {
		if err := p.updater.Complete(runID, envelope.Payload.Status, "", int64(len(rec.Data))); err != nil {
			p.logger.Error("streamproxy: failed to update run after completion", "run_id", runID, "error", err)
		}
	}()
}
