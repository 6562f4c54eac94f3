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
	"log/slog"
	"strings"
	"time"

	"github.com/flow-like/core/pkg/security/audit"
)

// EventType represents the type of security event.
type EventType string

const (
	// EventAccessDenied indicates an access request was denied
	EventAccessDenied EventType = "access_denied"

	// EventAccessGranted indicates an access request was granted
	EventAccessGranted EventType = "access_granted"

	// EventViolation indicates a security policy violation
	EventViolation EventType = "violation"

	// EventSandboxEscapeAttempt indicates an attempted sandbox escape
	EventSandboxEscapeAttempt EventType = "sandbox_escape_attempt"
)

// SecurityEvent represents a security-related event.
type SecurityEvent struct {
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// EventType categorizes the event
	EventType EventType `json:"event_type"`

	// WorkflowID identifies the workflow
	WorkflowID string `json:"workflow_id,omitempty"`

	// StepID identifies the step within the workflow
	StepID string `json:"step_id,omitempty"`

	// ToolName is the name of the tool involved
	ToolName string `json:"tool_name,omitempty"`

	// Resource is the resource being accessed (file path, URL, command)
	// Field is truncated to 1024 characters to prevent log injection
	Resource string `json:"resource,omitempty"`

	// Action is the action being performed (read, write, execute, connect)
	Action AccessAction `json:"action,omitempty"`

	// Decision indicates whether access was allowed
	Decision string `json:"decision"`

	// Reason explains the decision
	// Field is truncated to 512 characters to prevent log injection
	Reason string `json:"reason,omitempty"`

	// Profile is the security profile active during the event
	Profile string `json:"profile"`

	// UserID identifies the user (for multi-tenant systems)
	UserID string `json:"user_id,omitempty"`
}

// sanitizeField truncates and removes control characters from a field.
func sanitizeField(s string, maxLen int) string {
	// Truncate to max length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove control characters (except tab, newline and carriage return, which are escaped by JSON)
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1 // Remove character
		}
		return r
	}, s)

	return s
}

// NewSecurityEvent creates a new security event with sanitized fields.
func NewSecurityEvent(eventType EventType, req AccessRequest, decision AccessDecision) SecurityEvent {
	return SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		WorkflowID: sanitizeField(req.WorkflowID, 128),
		StepID:     sanitizeField(req.StepID, 128),
		ToolName:   sanitizeField(req.ToolName, 128),
		Resource:   sanitizeField(req.Resource, 1024),
		Action:     req.Action,
		Decision: map[bool]string{
			true:  "allowed",
			false: "denied",
		}[decision.Allowed],
		Reason:  sanitizeField(decision.Reason, 512),
		Profile: decision.Profile,
	}
}

// EventLogger logs security events.
type EventLogger interface {
	Log(event SecurityEvent)
}

// eventLogger implements EventLogger. It always emits to the structured
// logger and additionally fans out to the multi-destination audit.Logger
// when at least one destination is configured.
type eventLogger struct {
	enabled bool
	audit   *audit.Logger
	logger  *slog.Logger
}

// NewEventLogger creates a new event logger from audit configuration. A
// destination that fails to initialize (bad path, unreachable syslog,
// unknown type) is dropped with a warning rather than failing manager
// construction outright.
func NewEventLogger(config AuditConfig) EventLogger {
	if !config.Enabled {
		return &eventLogger{enabled: false}
	}

	l := &eventLogger{enabled: true, logger: slog.Default()}

	if len(config.Destinations) > 0 {
		auditCfg := audit.Config{Destinations: toAuditDestinations(config.Destinations, config.Rotation)}
		auditLogger, err := audit.NewLogger(auditCfg)
		if err != nil {
			l.logger.Warn("security: failed to initialize audit destinations, falling back to structured logging only", "error", err)
		} else {
			l.audit = auditLogger
		}
	}

	return l
}

// toAuditDestinations adapts AuditConfig's wire-format destinations to
// audit.DestinationConfig, promoting file destinations to rotating-file
// ones when rotation is enabled.
func toAuditDestinations(destinations []AuditDestination, rotation AuditRotationConfig) []audit.DestinationConfig {
	out := make([]audit.DestinationConfig, 0, len(destinations))
	for _, d := range destinations {
		destType := d.Type
		cfg := audit.DestinationConfig{
			Type:     destType,
			Path:     d.Path,
			Format:   d.Format,
			Facility: d.Facility,
			Severity: d.Severity,
			URL:      d.URL,
			Headers:  d.Headers,
		}
		if destType == "file" && rotation.Enabled {
			cfg.Type = "rotating-file"
			cfg.MaxSize = rotation.MaxSizeMB * 1024 * 1024
			cfg.MaxAge = time.Duration(rotation.MaxAgeDays) * 24 * time.Hour
			cfg.Compress = rotation.Compress
		}
		out = append(out, cfg)
	}
	return out
}

// Log records a security event.
func (l *eventLogger) Log(event SecurityEvent) {
	if !l.enabled {
		return
	}

	l.logger.Info("security event",
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"workflow_id", event.WorkflowID,
		"step_id", event.StepID,
		"tool_name", event.ToolName,
		"resource", event.Resource,
		"action", event.Action,
		"decision", event.Decision,
		"reason", event.Reason,
		"profile", event.Profile,
	)

	if l.audit != nil {
		l.audit.Log(audit.Event{
			Timestamp:  event.Timestamp,
			EventType:  string(event.EventType),
			WorkflowID: event.WorkflowID,
			StepID:     event.StepID,
			ToolName:   event.ToolName,
			Resource:   event.Resource,
			Action:     string(event.Action),
			Decision:   event.Decision,
			Reason:     event.Reason,
			Profile:    event.Profile,
			UserID:     event.UserID,
		})
	}
}

// Close releases any audit destinations held open by the logger. Safe to
// call even when no destinations were configured.
func (l *eventLogger) Close() error {
	if l.audit != nil {
		return l.audit.Close()
	}
	return nil
}
