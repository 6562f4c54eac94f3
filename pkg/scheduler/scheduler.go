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

// Package scheduler defines the pluggable Scheduler Backend capability
//: create/update/delete/enable/disable/list recurring cron
// triggers, independent of which concrete system materializes them.
package scheduler

import (
	"context"
	"strings"
	"time"
)

// Info mirrors the data model's ScheduleInfo.
type Info struct {
	EventID        string
	CronExpression string
	Active         bool
	LastTriggered  *time.Time
	NextTrigger    *time.Time
}

// Config is the per-schedule configuration passed to create/update.
type Config struct {
	Timezone string
}

// Backend is the capability set common to every scheduler variant.
type Backend interface {
	CreateSchedule(ctx context.Context, eventID, cronExpr string, cfg Config) error
	UpdateSchedule(ctx context.Context, eventID, cronExpr string, cfg Config) error
	DeleteSchedule(ctx context.Context, eventID string) error
	EnableSchedule(ctx context.Context, eventID string) error
	DisableSchedule(ctx context.Context, eventID string) error
	ScheduleExists(ctx context.Context, eventID string) (bool, error)
	GetSchedule(ctx context.Context, eventID string) (*Info, error)
	ListSchedules(ctx context.Context, limit, offset int) ([]Info, error)
}

// SanitizeName derives the cross-variant schedule name from an event ID:
// lower-case, strip '/', ':', '_', truncate to 50 chars (/
// §8 boundary behavior).
func SanitizeName(eventID string) string {
	s := strings.ToLower(eventID)
	s = strings.NewReplacer("/", "", ":", "", "_", "").Replace(s)
	name := "flow-like-cron-" + s
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}

// NormalizeCronForAWS converts a standard 5-field cron expression to AWS
// EventBridge Scheduler's 6-field form by appending a trailing "*" year
// field. A 6-field expression is returned unchanged.
func NormalizeCronForAWS(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == 6 {
		return expr
	}
	if len(fields) == 5 {
		return expr + " *"
	}
	return expr
}
