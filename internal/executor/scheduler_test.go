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
	"testing"

	"github.com/flow-like/core/pkg/graph"
)

func twoNodeBoard() *graph.Board {
	return &graph.Board{
		ID: "board-1",
		Nodes: map[graph.NodeID]*graph.Node{
			"entry": {
				ID:       "entry",
				Category: "core.passthrough",
				Pins: map[graph.PinID]*graph.Pin{
					"entry.exec.in":  {ID: "entry.exec.in", PinType: graph.PinTypeInput, DataType: graph.DataTypeExecution},
					"entry.exec.out": {ID: "entry.exec.out", PinType: graph.PinTypeOutput, DataType: graph.DataTypeExecution, ConnectedTo: []graph.PinID{"next.exec.in"}},
				},
			},
			"next": {
				ID:       "next",
				Category: "core.passthrough",
				Pins: map[graph.PinID]*graph.Pin{
					"next.exec.in": {ID: "next.exec.in", PinType: graph.PinTypeInput, DataType: graph.DataTypeExecution},
				},
			},
		},
	}
}

type execCatalog struct{}

func (execCatalog) Lookup(category string) (NodeFunc, bool) {
	if category != "core.passthrough" {
		return nil, false
	}
	return func(ctx context.Context, n *graph.Node, inputs map[graph.PinID]graph.Value) (map[graph.PinID]graph.Value, []graph.PinID, error) {
		var activated []graph.PinID
		for _, p := range n.OutputPins() {
			if p.IsExecution() {
				activated = append(activated, p.ID)
			}
		}
		return map[graph.PinID]graph.Value{}, activated, nil
	}, true
}

func TestScheduler_Run_WalksExecutionChain(t *testing.T) {
	sched := New(Config{Board: twoNodeBoard(), Catalog: execCatalog{}, RunID: "run-1"})

	outcome := sched.Run(context.Background(), "entry", nil)
	if outcome.Status != "Completed" {
		t.Fatalf("status = %q, error = %q", outcome.Status, outcome.Error)
	}
}

func TestScheduler_Run_MissingNode(t *testing.T) {
	sched := New(Config{Board: twoNodeBoard(), Catalog: execCatalog{}, RunID: "run-1"})

	outcome := sched.Run(context.Background(), "missing", nil)
	if outcome.Status != "Failed" {
		t.Fatalf("status = %q, want Failed", outcome.Status)
	}
}

func TestScheduler_Run_UnknownCatalogEntry(t *testing.T) {
	board := twoNodeBoard()
	board.Nodes["entry"].Category = "unregistered"
	sched := New(Config{Board: board, Catalog: execCatalog{}, RunID: "run-1"})

	outcome := sched.Run(context.Background(), "entry", nil)
	if outcome.Status != "Failed" {
		t.Fatalf("status = %q, want Failed", outcome.Status)
	}
}

func TestScheduler_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := New(Config{Board: twoNodeBoard(), Catalog: execCatalog{}, RunID: "run-1"})
	outcome := sched.Run(ctx, "entry", nil)
	if outcome.Status != "Cancelled" {
		t.Fatalf("status = %q, want Cancelled", outcome.Status)
	}
}

func TestMemoryCatalog_PassthroughNode(t *testing.T) {
	catalog := NewMemoryCatalog()
	fn, ok := catalog.Lookup("core.passthrough")
	if !ok {
		t.Fatal("expected core.passthrough to be registered")
	}

	n := &graph.Node{ID: "n1"}
	outputs, activated, err := fn(context.Background(), n, map[graph.PinID]graph.Value{"in": 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outputs["in"] != 42 {
		t.Errorf("outputs = %+v, want pass-through of inputs", outputs)
	}
	if len(activated) != 0 {
		t.Errorf("activated = %+v, want none", activated)
	}
}

func TestMemoryCatalog_Register(t *testing.T) {
	catalog := NewMemoryCatalog()
	called := false
	catalog.Register("custom", func(ctx context.Context, n *graph.Node, inputs map[graph.PinID]graph.Value) (map[graph.PinID]graph.Value, []graph.PinID, error) {
		called = true
		return nil, nil, nil
	})

	fn, ok := catalog.Lookup("custom")
	if !ok {
		t.Fatal("expected custom category to be registered")
	}
	fn(context.Background(), &graph.Node{}, nil)
	if !called {
		t.Error("expected registered func to be called")
	}
}
