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

package graph

import "fmt"

// Validate checks the board's connection-graph invariants named in the data
// model: every Pin.connected_to must reference a pin that exists in the board
// or one of its layers; an Execution pin may only connect to other Execution
// pins; a data pin's connections must agree on element type (Generic matches
// anything).
func (b *Board) Validate() error {
	for _, n := range b.Nodes {
		if err := b.validateNode(n); err != nil {
			return err
		}
	}
	for _, l := range b.Layers {
		for _, n := range l.Nodes {
			if err := b.validateNode(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Board) validateNode(n *Node) error {
	for _, p := range n.Pins {
		for _, target := range p.ConnectedTo {
			tp, _, ok := b.FindPin(target)
			if !ok {
				return fmt.Errorf("graph: node %s pin %s connects to missing pin %s", n.ID, p.ID, target)
			}
			if p.IsExecution() != tp.IsExecution() {
				return fmt.Errorf("graph: pin %s (execution=%v) cannot connect to pin %s (execution=%v)",
					p.ID, p.IsExecution(), tp.ID, tp.IsExecution())
			}
			if !p.IsExecution() {
				if p.DataType != DataTypeGeneric && tp.DataType != DataTypeGeneric && p.DataType != tp.DataType {
					return fmt.Errorf("graph: data pin %s (%s) cannot connect to pin %s (%s)",
						p.ID, p.DataType, tp.ID, tp.DataType)
				}
			}
		}
	}
	return nil
}

// ResolvedDataType returns the concrete data type a Generic pin should adopt
// by looking at its single connected neighbor. Non-generic pins return their
// own type unchanged.
func (b *Board) ResolvedDataType(p *Pin) DataType {
	if p.DataType != DataTypeGeneric {
		return p.DataType
	}
	if len(p.ConnectedTo) == 0 {
		return DataTypeGeneric
	}
	if neighbor, _, ok := b.FindPin(p.ConnectedTo[0]); ok && neighbor.DataType != DataTypeGeneric {
		return neighbor.DataType
	}
	return DataTypeGeneric
}
