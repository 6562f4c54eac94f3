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

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flow-like/core/pkg/graph"
)

func writeEvent(t *testing.T, dir, filename string, ev graph.Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		t.Fatalf("write event file: %v", err)
	}
}

func TestValidateEventPublicAPIRequirements(t *testing.T) {
	tests := []struct {
		name          string
		publicEnabled bool
		events        map[string]graph.Event
		wantErr       bool
		errContains   string
	}{
		{
			name:          "public API enabled - no validation error",
			publicEnabled: true,
			events: map[string]graph.Event{
				"webhook.json": {ID: "webhook-event", EventType: graph.EventTypeWebhook},
			},
			wantErr: false,
		},
		{
			name:          "no events dir - no validation error",
			publicEnabled: false,
			events:        nil,
			wantErr:       false,
		},
		{
			name:          "public API disabled with webhook event",
			publicEnabled: false,
			events: map[string]graph.Event{
				"webhook.json": {ID: "webhook-event", EventType: graph.EventTypeWebhook},
			},
			wantErr:     true,
			errContains: "webhook-event (webhook)",
		},
		{
			name:          "public API disabled with http event",
			publicEnabled: false,
			events: map[string]graph.Event{
				"http.json": {ID: "http-event", EventType: graph.EventTypeHTTP},
			},
			wantErr:     true,
			errContains: "http-event (http)",
		},
		{
			name:          "public API disabled with cron only - no error",
			publicEnabled: false,
			events: map[string]graph.Event{
				"cron.json": {ID: "cron-event", EventType: graph.EventTypeCron},
			},
			wantErr: false,
		},
		{
			name:          "no events written - no error",
			publicEnabled: false,
			events:        nil,
			wantErr:       false,
		},
		{
			name:          "multiple events requiring public API",
			publicEnabled: false,
			events: map[string]graph.Event{
				"webhook1.json": {ID: "webhook-1", EventType: graph.EventTypeWebhook},
				"webhook2.json": {ID: "webhook-2", EventType: graph.EventTypeWebhook},
			},
			wantErr:     true,
			errContains: "webhook-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := ""
			if tt.events != nil {
				tmpDir = t.TempDir()
				for filename, ev := range tt.events {
					writeEvent(t, tmpDir, filename, ev)
				}
			}

			cfg := &Config{
				Daemon: DaemonConfig{
					EventsDir: tmpDir,
					Listen: ListenConfig{
						PublicAPI: PublicAPIConfig{
							Enabled: tt.publicEnabled,
						},
					},
				},
			}

			err := ValidateEventPublicAPIRequirements(cfg)

			if tt.wantErr && err == nil {
				t.Error("Expected error but got nil")
			}

			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}

			if tt.errContains != "" && err != nil {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error should contain %q, got: %v", tt.errContains, err)
				}
			}
		})
	}
}

func TestValidateEventPublicAPIRequirements_InvalidFileSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "invalid.json"), []byte("not json"), 0644); err != nil {
		t.Fatalf("write invalid event file: %v", err)
	}

	cfg := &Config{
		Daemon: DaemonConfig{
			EventsDir: tmpDir,
			Listen:    ListenConfig{PublicAPI: PublicAPIConfig{Enabled: false}},
		},
	}

	if err := ValidateEventPublicAPIRequirements(cfg); err != nil {
		t.Errorf("expected invalid event file to be skipped, got: %v", err)
	}
}
