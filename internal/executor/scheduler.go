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

// Package executor is the InternalRun graph scheduler: it
// walks a board from an entry node, activating execution pins in insertion
// order and pulling data pins lazily in pure mode. Single-threaded
// cooperative scheduling within one run, mirroring an executeWithAdapter
// style step loop but driven by pin topology instead of a
// linear step list.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/intercom"
)

// NodeFunc is a registered node implementation: it reads its resolved input
// pin values and returns the values for its output data pins plus the IDs of
// the execution pins it activates, in the order they should fire.
type NodeFunc func(ctx context.Context, n *graph.Node, inputs map[graph.PinID]graph.Value) (outputs map[graph.PinID]graph.Value, activated []graph.PinID, err error)

// Catalog resolves a node's catalog key to its implementation. A concrete
// catalog (the node library) is an external collaborator; the
// scheduler only depends on this lookup.
type Catalog interface {
	Lookup(category string) (NodeFunc, bool)
}

// Outcome is the terminal result of a Run.
type Outcome struct {
	Status  string // "Completed" | "Failed" | "Cancelled"
	Error   string
	Outputs map[graph.PinID]graph.Value
}

// Scheduler executes one board invocation.
type Scheduler struct {
	board    *graph.Board
	catalog  Catalog
	emitter  *intercom.Handler
	runID    string
	logger   *slog.Logger
	logLevel int
}

// Config configures a Scheduler run.
type Config struct {
	Board    *graph.Board
	Catalog  Catalog
	Emitter  *intercom.Handler
	RunID    string
	Logger   *slog.Logger
	LogLevel int // 0=Off .. 5=Fatal, clamps emitted log events
}

// New builds a Scheduler bound to one board.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{board: cfg.Board, catalog: cfg.Catalog, emitter: cfg.Emitter, runID: cfg.RunID, logger: logger, logLevel: cfg.LogLevel}
}

// Run walks the board from entryNode, activating downstream nodes along
// fired execution pins until no node activates further output, an error
// propagates, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, entryNode graph.NodeID, seedInputs map[graph.PinID]graph.Value) Outcome {
	visited := make(map[graph.NodeID]bool)
	queue := []graph.NodeID{entryNode}
	var lastOutputs map[graph.PinID]graph.Value

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return Outcome{Status: "Cancelled", Error: ctx.Err().Error()}
		default:
		}

		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		node, ok := s.board.FindNode(current)
		if !ok {
			return s.fail(fmt.Sprintf("execution pin pointed at missing node %s", current))
		}

		s.emit(intercom.KindNodeStart, map[string]any{"node_id": string(current)})

		impl, ok := s.catalog.Lookup(node.Category)
		if !ok {
			return s.fail(fmt.Sprintf("no catalog implementation for category %q (node %s)", node.Category, current))
		}

		inputs, err := s.resolveInputs(ctx, node, nil, seedInputs)
		if err != nil {
			return s.fail(err.Error())
		}

		var cancel context.CancelFunc
		nodeCtx := ctx
		if node.LongRunning {
			nodeCtx, cancel = context.WithCancel(ctx)
			defer cancel()
		}

		outputs, activated, err := impl(nodeCtx, node, inputs)
		if err != nil {
			s.emit(intercom.KindError, map[string]any{"node_id": string(current), "error": err.Error()})
			return s.fail(fmt.Sprintf("node %s failed: %v", current, err))
		}
		lastOutputs = outputs

		s.emit(intercom.KindNodeEnd, map[string]any{"node_id": string(current)})

		for _, pinID := range activated {
			pin, ok := s.board.FindPin(pinID)
			if !ok {
				continue
			}
			for _, targetPinID := range pin.ConnectedTo {
				_, targetNode, ok := s.board.FindPin(targetPinID)
				if !ok {
					continue
				}
				queue = append(queue, targetNode.ID)
			}
		}
	}

	return Outcome{Status: "Completed", Outputs: lastOutputs}
}

// resolveInputs gathers every input data pin's value, pulling connected
// upstream nodes in pure mode (no execution effects, no event emission).
// inFlight detects cycles among pure evaluations.
func (s *Scheduler) resolveInputs(ctx context.Context, n *graph.Node, inFlight map[graph.NodeID]bool, seed map[graph.PinID]graph.Value) (map[graph.PinID]graph.Value, error) {
	if inFlight == nil {
		inFlight = make(map[graph.NodeID]bool)
	}
	inFlight[n.ID] = true

	result := make(map[graph.PinID]graph.Value)
	for _, pin := range n.InputPins() {
		if pin.IsExecution() {
			continue
		}
		if v, ok := seed[pin.ID]; ok {
			result[pin.ID] = v
			continue
		}

		if len(pin.ConnectedTo) == 0 {
			dt := s.board.ResolvedDataType(pin)
			v, err := graph.DecodeValue(dt, pin.ValueType, pin.DefaultValue)
			if err != nil {
				return nil, fmt.Errorf("pin %s default value: %w", pin.ID, err)
			}
			result[pin.ID] = v
			continue
		}

		upstreamPinID := pin.ConnectedTo[0]
		_, upstreamNode, ok := s.board.FindPin(upstreamPinID)
		if !ok {
			return nil, fmt.Errorf("pin %s connects to missing pin %s", pin.ID, upstreamPinID)
		}
		if inFlight[upstreamNode.ID] {
			return nil, fmt.Errorf("cycle detected among pure data pins at node %s", upstreamNode.ID)
		}

		impl, ok := s.catalog.Lookup(upstreamNode.Category)
		if !ok {
			return nil, fmt.Errorf("no catalog implementation for category %q (node %s)", upstreamNode.Category, upstreamNode.ID)
		}

		upstreamInputs, err := s.resolveInputs(ctx, upstreamNode, inFlight, seed)
		if err != nil {
			return nil, err
		}
		outputs, _, err := impl(ctx, upstreamNode, upstreamInputs)
		if err != nil {
			return nil, fmt.Errorf("pure evaluation of node %s failed: %w", upstreamNode.ID, err)
		}
		result[pin.ID] = outputs[upstreamPinID]
	}

	delete(inFlight, n.ID)
	return result, nil
}

func (s *Scheduler) fail(reason string) Outcome {
	return Outcome{Status: "Failed", Error: reason}
}

// logSeverity ranks the diagnostic intercom kinds the scheduler emits on the
// same 0=Off..5=Fatal scale as Scheduler.logLevel. node_start/node_end are
// the noisiest (Debug) tier; error is the most severe tier this scheduler
// ever emits.
func logSeverity(kind intercom.Kind) int {
	switch kind {
	case intercom.KindNodeStart, intercom.KindNodeEnd:
		return 1 // Debug
	case intercom.KindError:
		return 4 // Error
	default:
		return 2 // Info
	}
}

// emit forwards an event to the bus unless logLevel clamps it out: Off (0)
// suppresses every diagnostic event, and any other level only lets through
// events at or above its own severity.
func (s *Scheduler) emit(kind intercom.Kind, payload any) {
	if s.emitter == nil {
		return
	}
	if s.logLevel == 0 || logSeverity(kind) < s.logLevel {
		return
	}
	_ = s.emitter.Emit(kind, s.runID, payload)
}
