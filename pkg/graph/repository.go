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

import "context"

// EventType enumerates the trigger surfaces a board's entry node can be bound to.
type EventType string

const (
	EventTypeSimpleChat  EventType = "simple_chat"
	EventTypeGenericForm EventType = "generic_form"
	EventTypeQuickAction EventType = "quick_action"
	EventTypeCron        EventType = "cron"
	EventTypeWebhook     EventType = "webhook"
	EventTypeHTTP        EventType = "http"
	EventTypeMQTT        EventType = "mqtt"
)

// EventInput describes one named input slot an event accepts from its caller.
type EventInput struct {
	Name     string   `json:"name"`
	DataType DataType `json:"data_type"`
	Required bool     `json:"required"`
}

// Event is the trigger descriptor binding an external input to an entry node.
type Event struct {
	ID            string               `json:"id"`
	BoardID       string               `json:"board_id"`
	BoardVersion  *Version             `json:"board_version,omitempty"`
	NodeID        NodeID               `json:"node_id"`
	EventType     EventType            `json:"event_type"`
	Variables     map[string]*Variable `json:"variables,omitempty"`
	Config        []byte               `json:"config,omitempty"`
	Inputs        []EventInput         `json:"inputs,omitempty"`
	Canary        *string              `json:"canary,omitempty"`
	Priority      uint32               `json:"priority"`
	Route         *string              `json:"route,omitempty"`
	IsDefault     bool                 `json:"is_default"`
	Active        bool                 `json:"active"`
}

// Repository is the external collaborator that persists apps/boards/events.
// Persistent relational storage is an explicit non-goal of the control plane;
// this interface is all the core depends on.
type Repository interface {
	GetBoard(ctx context.Context, appID, boardID string, version *Version) (*Board, error)
	GetEvent(ctx context.Context, appID, eventID string) (*Event, error)
}
