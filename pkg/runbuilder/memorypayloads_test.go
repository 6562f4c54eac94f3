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
	"testing"
)

func TestMemoryPayloadStore_PutAndGet(t *testing.T) {
	store := NewMemoryPayloadStore()

	if err := store.Put(context.Background(), "key-1", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := store.Get("key-1")
	if !ok {
		t.Fatal("expected key-1 to be present")
	}
	if string(got) != "payload" {
		t.Errorf("payload = %q, want %q", got, "payload")
	}

	if _, ok := store.Get("missing"); ok {
		t.Fatal("expected missing key to be absent")
	}
}

func TestMemoryPayloadStore_PutCopiesBody(t *testing.T) {
	store := NewMemoryPayloadStore()
	body := []byte("original")
	store.Put(context.Background(), "key-1", body)

	body[0] = 'X'

	got, _ := store.Get("key-1")
	if string(got) != "original" {
		t.Errorf("stored payload mutated by caller: %q", got)
	}
}
