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

// Package graph implements the Board/Node/Pin data model: a versioned directed
// graph of typed nodes connected by execution and data pins.
package graph

import "fmt"

// PinType distinguishes an input port from an output port.
type PinType string

const (
	PinTypeInput  PinType = "Input"
	PinTypeOutput PinType = "Output"
)

// DataType is the concrete type carried by a pin.
type DataType string

const (
	DataTypeExecution DataType = "Execution"
	DataTypeString    DataType = "String"
	DataTypeInteger   DataType = "Integer"
	DataTypeFloat     DataType = "Float"
	DataTypeBoolean   DataType = "Boolean"
	DataTypeDate      DataType = "Date"
	DataTypePathBuf   DataType = "PathBuf"
	DataTypeByte      DataType = "Byte"
	DataTypeStruct    DataType = "Struct"
	DataTypeGeneric   DataType = "Generic"
)

// ValueType describes the container shape around a DataType.
type ValueType string

const (
	ValueTypeNormal  ValueType = "Normal"
	ValueTypeArray   ValueType = "Array"
	ValueTypeHashMap ValueType = "HashMap"
	ValueTypeHashSet ValueType = "HashSet"
)

// NodeID and PinID are fingerprints only; they carry no invariants of their own.
type NodeID string
type PinID string
type LayerID string

// Pin is a typed input or output port on a node.
type Pin struct {
	ID           PinID     `json:"id"`
	Name         string    `json:"name"`
	PinType      PinType   `json:"pin_type"`
	DataType     DataType  `json:"data_type"`
	ValueType    ValueType `json:"value_type"`
	DefaultValue []byte    `json:"default_value,omitempty"`
	// ConnectedTo is an ordered set: execution pins may fan out to many
	// downstream execution pins (insertion order matters); data pins use at
	// most the first entry as their single upstream edge.
	ConnectedTo []PinID `json:"connected_to,omitempty"`
	Index       uint16  `json:"index"`
}

// IsExecution reports whether this pin carries control flow rather than data.
func (p *Pin) IsExecution() bool {
	return p.DataType == DataTypeExecution
}

// Node is one vertex of the board: a catalog key plus its pins.
type Node struct {
	ID           NodeID         `json:"id"`
	Name         string         `json:"name"` // catalog key
	FriendlyName string         `json:"friendly_name"`
	Category     string         `json:"category"`
	Pins         map[PinID]*Pin `json:"pins"`
	LongRunning  bool           `json:"long_running"`
	Scores       NodeScores     `json:"scores"`
}

// NodeScores captures the six small per-node quality dimensions.
type NodeScores struct {
	Privacy     int `json:"privacy"`
	Security    int `json:"security"`
	Performance int `json:"performance"`
	Governance  int `json:"governance"`
	Reliability int `json:"reliability"`
	Cost        int `json:"cost"`
}

// InputPins returns this node's input pins ordered by Index.
func (n *Node) InputPins() []*Pin {
	return n.pinsByType(PinTypeInput)
}

// OutputPins returns this node's output pins ordered by Index.
func (n *Node) OutputPins() []*Pin {
	return n.pinsByType(PinTypeOutput)
}

func (n *Node) pinsByType(t PinType) []*Pin {
	out := make([]*Pin, 0, len(n.Pins))
	for _, p := range n.Pins {
		if p.PinType == t {
			out = append(out, p)
		}
	}
	// insertion sort by Index; node pin counts are small (tens, not thousands)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Index > out[j].Index {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// Layer is a nested subgraph within a board.
type Layer struct {
	ID    LayerID          `json:"id"`
	Name  string           `json:"name"`
	Nodes map[NodeID]*Node `json:"nodes"`
}

// Variable is a board-scoped named value, distinct from pin values.
type Variable struct {
	Name         string    `json:"name"`
	DataType     DataType  `json:"data_type"`
	ValueType    ValueType `json:"value_type"`
	DefaultValue []byte    `json:"default_value,omitempty"`
	Secret       bool      `json:"secret,omitempty"`
}

// Comment is a free-floating annotation on the board canvas. Carries no
// execution semantics; kept for round-tripping the editor's layout.
type Comment struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Version is a board's semantic version triple.
type Version struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Patch uint32 `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Board is an immutable (once published) directed graph of nodes.
type Board struct {
	ID        string             `json:"id"`
	Version   Version            `json:"version"`
	Nodes     map[NodeID]*Node   `json:"nodes"`
	Layers    map[LayerID]*Layer `json:"layers,omitempty"`
	Variables map[string]*Variable `json:"variables,omitempty"`
	Comments  []Comment          `json:"comments,omitempty"`
}

// FindNode looks a node up across the top-level board and its layers.
func (b *Board) FindNode(id NodeID) (*Node, bool) {
	if n, ok := b.Nodes[id]; ok {
		return n, true
	}
	for _, l := range b.Layers {
		if n, ok := l.Nodes[id]; ok {
			return n, true
		}
	}
	return nil, false
}

// FindPin locates a pin anywhere in the board or its layers.
func (b *Board) FindPin(id PinID) (*Pin, *Node, bool) {
	for _, n := range b.Nodes {
		if p, ok := n.Pins[id]; ok {
			return p, n, true
		}
	}
	for _, l := range b.Layers {
		for _, n := range l.Nodes {
			if p, ok := n.Pins[id]; ok {
				return p, n, true
			}
		}
	}
	return nil, nil, false
}
