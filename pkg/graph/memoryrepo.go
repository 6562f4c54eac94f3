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

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is the in-memory Repository variant: a reference
// implementation for local development and tests, the graph.Repository
// analogue of a backend/memory store. Production deployments
// inject a relational Repository instead.
type MemoryRepository struct {
	mu     sync.RWMutex
	boards map[string]*Board
	events map[string]*Event
}

// NewMemoryRepository builds an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		boards: make(map[string]*Board),
		events: make(map[string]*Event),
	}
}

func boardKey(appID, boardID string) string { return appID + "/" + boardID }

// PutBoard registers a board under an app, overwriting any prior version.
func (m *MemoryRepository) PutBoard(appID string, board *Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[boardKey(appID, board.ID)] = board
}

// PutEvent registers an event, keyed by its own ID across all apps.
func (m *MemoryRepository) PutEvent(event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
}

// GetBoard implements Repository. version is ignored: MemoryRepository keeps
// one version per board ID, matching its dev/test scope.
func (m *MemoryRepository) GetBoard(ctx context.Context, appID, boardID string, version *Version) (*Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[boardKey(appID, boardID)]
	if !ok {
		return nil, fmt.Errorf("graph: board not found: %s/%s", appID, boardID)
	}
	return b, nil
}

// GetEvent implements Repository.
func (m *MemoryRepository) GetEvent(ctx context.Context, appID, eventID string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[eventID]
	if !ok || e.BoardID == "" {
		return nil, fmt.Errorf("graph: event not found: %s", eventID)
	}
	return e, nil
}
