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

	"github.com/flow-like/core/pkg/graph"
)

// MemoryCatalog is an in-process, in-memory Catalog: a registry keyed by
// category string. The node library itself (the catalog of actual
// integrations) is an external collaborator; MemoryCatalog is the reference
// lookup structure plus a couple of built-in nodes useful for local
// development and tests.
type MemoryCatalog struct {
	funcs map[string]NodeFunc
}

// NewMemoryCatalog builds a MemoryCatalog seeded with the built-in nodes.
func NewMemoryCatalog() *MemoryCatalog {
	c := &MemoryCatalog{funcs: make(map[string]NodeFunc)}
	c.Register("core.passthrough", passthroughNode)
	return c
}

// Register adds or replaces the implementation for category.
func (c *MemoryCatalog) Register(category string, fn NodeFunc) {
	c.funcs[category] = fn
}

// Lookup implements Catalog.
func (c *MemoryCatalog) Lookup(category string) (NodeFunc, bool) {
	fn, ok := c.funcs[category]
	return fn, ok
}

// passthroughNode copies its inputs to outputs of the same pin ID and
// activates no execution pins, for boards that only need to exercise data
// flow without a real integration behind them.
func passthroughNode(ctx context.Context, n *graph.Node, inputs map[graph.PinID]graph.Value) (map[graph.PinID]graph.Value, []graph.PinID, error) {
	outputs := make(map[graph.PinID]graph.Value, len(inputs))
	for id, v := range inputs {
		outputs[id] = v
	}
	return outputs, nil, nil
}
