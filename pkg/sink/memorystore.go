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

package sink

import (
	"context"
	"sync"

	"github.com/flow-like/core/pkg/graph"
)

// MemoryStore is the in-memory Store variant, the sink analogue of
// MemoryProvider and graph.MemoryRepository: a reference implementation for
// local development and tests. Production deployments inject a relational
// Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*graph.Event
	sinks  map[string]*Sink
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*graph.Event),
		sinks:  make(map[string]*Sink),
	}
}

func (m *MemoryStore) UpsertEvent(ctx context.Context, event *graph.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
	return nil
}

func (m *MemoryStore) UpsertSink(ctx context.Context, s *Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[s.EventID] = s
	return nil
}

func (m *MemoryStore) GetSink(ctx context.Context, eventID string) (*Sink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sinks[eventID]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *MemoryStore) DeleteSink(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sinks, eventID)
	return nil
}

func (m *MemoryStore) DeleteEvent(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}
