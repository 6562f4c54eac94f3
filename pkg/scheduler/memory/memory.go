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

// Package memory implements the in-memory wheel scheduler backend: a single
// ticker loop checking due schedules, suitable for single-process
// deployments. Schedules do not survive a restart — the sink registry is the
// system of record and recreates them on boot.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flow-like/core/pkg/scheduler"
)

// TriggerFunc is invoked when a schedule comes due.
type TriggerFunc func(ctx context.Context, eventID string)

type entry struct {
	eventID  string
	cron     string
	cfg      scheduler.Config
	expr     *cronExpr
	active   bool
	nextRun  time.Time
	lastRun  *time.Time
}

// Backend is the in-memory scheduler-backend variant.
type Backend struct {
	mu        sync.RWMutex
	schedules map[string]*entry
	trigger   TriggerFunc
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// New builds an in-memory Backend. trigger is invoked (in its own goroutine)
// every time a schedule comes due.
func New(trigger TriggerFunc, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		schedules: make(map[string]*entry),
		trigger:   trigger,
		logger:    logger.With(slog.String("component", "scheduler.memory")),
		now:       time.Now,
	}
}

// Run starts the tick loop; it returns once ctx is cancelled.
func (b *Backend) Run(ctx context.Context) {
	b.mu.Lock()
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	defer close(b.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case now := <-ticker.C:
			b.tick(ctx, now)
		}
	}
}

func (b *Backend) tick(ctx context.Context, now time.Time) {
	b.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range b.schedules {
		if e.active && !now.Before(e.nextRun) {
			due = append(due, e)
			e.nextRun = e.expr.next(now)
			e.lastRun = &now
		}
	}
	b.mu.Unlock()

	for _, e := range due {
		go b.trigger(ctx, e.eventID)
	}
}

func (b *Backend) CreateSchedule(ctx context.Context, eventID, cronExpr string, cfg scheduler.Config) error {
	expr, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}
	loc, err := resolveLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.schedules[eventID] = &entry{
		eventID: eventID,
		cron:    cronExpr,
		cfg:     cfg,
		expr:    expr,
		active:  true,
		nextRun: expr.next(b.now().In(loc)),
	}
	return nil
}

func (b *Backend) UpdateSchedule(ctx context.Context, eventID, cronExpr string, cfg scheduler.Config) error {
	b.mu.Lock()
	_, exists := b.schedules[eventID]
	b.mu.Unlock()
	if !exists {
		return fmt.Errorf("scheduler: schedule not found: %s", eventID)
	}
	return b.CreateSchedule(ctx, eventID, cronExpr, cfg)
}

func (b *Backend) DeleteSchedule(ctx context.Context, eventID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.schedules, eventID)
	return nil
}

func (b *Backend) EnableSchedule(ctx context.Context, eventID string) error {
	return b.setActive(eventID, true)
}

func (b *Backend) DisableSchedule(ctx context.Context, eventID string) error {
	return b.setActive(eventID, false)
}

func (b *Backend) setActive(eventID string, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.schedules[eventID]
	if !ok {
		return fmt.Errorf("scheduler: schedule not found: %s", eventID)
	}
	e.active = active
	return nil
}

func (b *Backend) ScheduleExists(ctx context.Context, eventID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.schedules[eventID]
	return ok, nil
}

func (b *Backend) GetSchedule(ctx context.Context, eventID string) (*scheduler.Info, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.schedules[eventID]
	if !ok {
		return nil, nil
	}
	return toInfo(e), nil
}

func (b *Backend) ListSchedules(ctx context.Context, limit, offset int) ([]scheduler.Info, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := make([]scheduler.Info, 0, len(b.schedules))
	for _, e := range b.schedules {
		all = append(all, *toInfo(e))
	}
	if offset >= len(all) {
		return []scheduler.Info{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func toInfo(e *entry) *scheduler.Info {
	next := e.nextRun
	return &scheduler.Info{
		EventID:        e.eventID,
		CronExpression: e.cron,
		Active:         e.active,
		LastTriggered:  e.lastRun,
		NextTrigger:    &next,
	}
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

var _ scheduler.Backend = (*Backend)(nil)
