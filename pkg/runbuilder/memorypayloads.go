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

package runbuilder

import (
	"context"
	"sync"
)

// MemoryPayloadStore is the in-memory PayloadStore variant: a reference
// implementation for local development and tests. Production deployments
// inject an object-store-backed PayloadStore.
type MemoryPayloadStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryPayloadStore builds an empty MemoryPayloadStore.
func NewMemoryPayloadStore() *MemoryPayloadStore {
	return &MemoryPayloadStore{data: make(map[string][]byte)}
}

// Put implements PayloadStore.
func (m *MemoryPayloadStore) Put(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	m.data[key] = cp
	return nil
}

// Get returns a previously stored payload, for use by an in-process executor
// that needs to fetch by key rather than carry the body inline.
func (m *MemoryPayloadStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.data[key]
	return body, ok
}
