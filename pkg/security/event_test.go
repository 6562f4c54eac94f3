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

package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewEventLoggerDisabled(t *testing.T) {
	l := NewEventLogger(AuditConfig{Enabled: false})
	el, ok := l.(*eventLogger)
	if !ok {
		t.Fatalf("expected *eventLogger, got %T", l)
	}
	if el.enabled {
		t.Error("expected logger to be disabled")
	}
	if el.audit != nil {
		t.Error("expected no audit destinations on a disabled logger")
	}
	// Log and Close must be safe no-ops.
	l.Log(SecurityEvent{EventType: EventAccessDenied})
	if err := el.Close(); err != nil {
		t.Errorf("Close() on disabled logger = %v", err)
	}
}

func TestNewEventLoggerWritesToFileDestination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l := NewEventLogger(AuditConfig{
		Enabled: true,
		Destinations: []AuditDestination{
			{Type: "file", Path: path, Format: "json"},
		},
	})
	el := l.(*eventLogger)
	if el.audit == nil {
		t.Fatal("expected audit destinations to be configured")
	}

	l.Log(SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventAccessDenied,
		Resource:  "/etc/passwd",
		Decision:  "denied",
		Reason:    "outside sandbox root",
	})

	if err := el.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected audit log to contain the written event")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data[:len(data)-1], &decoded); err != nil {
		t.Fatalf("audit log line is not valid JSON: %v", err)
	}
	if decoded["resource"] != "/etc/passwd" {
		t.Errorf("resource = %v, want /etc/passwd", decoded["resource"])
	}
}

func TestToAuditDestinationsPromotesRotatingFile(t *testing.T) {
	destinations := []AuditDestination{
		{Type: "file", Path: "/var/log/audit.log"},
		{Type: "webhook", URL: "https://example.com/audit"},
	}
	rotation := AuditRotationConfig{
		Enabled:    true,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		Compress:   true,
	}

	out := toAuditDestinations(destinations, rotation)
	if len(out) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(out))
	}

	if out[0].Type != "rotating-file" {
		t.Errorf("file destination type = %q, want rotating-file", out[0].Type)
	}
	if out[0].MaxSize != 10*1024*1024 {
		t.Errorf("MaxSize = %d, want %d", out[0].MaxSize, 10*1024*1024)
	}
	if out[0].MaxAge != 7*24*time.Hour {
		t.Errorf("MaxAge = %v, want %v", out[0].MaxAge, 7*24*time.Hour)
	}
	if !out[0].Compress {
		t.Error("expected Compress to carry over from rotation config")
	}

	if out[1].Type != "webhook" {
		t.Errorf("non-file destination type changed to %q, want webhook", out[1].Type)
	}
}

func TestNewEventLoggerInvalidDestinationFallsBack(t *testing.T) {
	l := NewEventLogger(AuditConfig{
		Enabled: true,
		Destinations: []AuditDestination{
			{Type: "unknown-type"},
		},
	})
	el := l.(*eventLogger)
	if !el.enabled {
		t.Error("expected logger to stay enabled for structured logging")
	}
	if el.audit != nil {
		t.Error("expected audit to be nil after destination initialization failure")
	}
	// Should not panic.
	l.Log(SecurityEvent{EventType: EventViolation})
}
