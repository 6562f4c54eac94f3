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
	"fmt"

	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/scheduler"
)

// Type is the sink surface derived from the owning event's EventType.
type Type string

const (
	TypeHTTP    Type = "http"
	TypeWebhook Type = "webhook"
	TypeCron    Type = "cron"
	TypeMQTT    Type = "mqtt"
)

// Sink is the persisted binding between an event and its trigger surface.
type Sink struct {
	EventID               string
	AppID                 string
	SinkType              Type
	Path                  *string
	AuthToken             *string
	WebhookSecret         *string
	CronExpression        *string
	CronTimezone          *string
	PATEncrypted          *string
	OAuthTokensEncrypted  *string
	ProfileJSON           *string
}

// Store is the persistence collaborator for sink rows. A concrete relational
// implementation is an external collaborator; this is
// all the registry depends on.
type Store interface {
	UpsertEvent(ctx context.Context, event *graph.Event) error
	UpsertSink(ctx context.Context, s *Sink) error
	GetSink(ctx context.Context, eventID string) (*Sink, error)
	DeleteSink(ctx context.Context, eventID string) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// Registry implements sync_event_with_sink_tokens / delete_event_with_sink.
type Registry struct {
	store           Store
	schedulerByType map[Type]scheduler.Backend
	encryptionKey   *EncryptionKey
}

// New builds a Registry. schedulerByType routes cron sinks to the configured
// scheduler backend (memory/aws/kubernetes); other sink types have no
// scheduler entry.
func New(store Store, cronBackend scheduler.Backend, key *EncryptionKey) *Registry {
	return &Registry{
		store:           store,
		schedulerByType: map[Type]scheduler.Backend{TypeCron: cronBackend},
		encryptionKey:   key,
	}
}

func deriveSinkType(et graph.EventType) Type {
	switch et {
	case graph.EventTypeCron:
		return TypeCron
	case graph.EventTypeWebhook:
		return TypeWebhook
	case graph.EventTypeMQTT:
		return TypeMQTT
	default:
		return TypeHTTP
	}
}

// SyncOptions carries the plaintext secrets to persist; they are encrypted
// before reaching the store.
type SyncOptions struct {
	PAT          string
	OAuthTokens  string // pre-serialized JSON
	CronExpr     string
	CronTimezone string
	WebhookSecret string
}

// SyncEventWithSinkTokens is idempotent: it upserts the event row, derives
// sink config from the event, and creates/updates the sink and its scheduler
// entry, scoped to one event's identifier.
func (r *Registry) SyncEventWithSinkTokens(ctx context.Context, event *graph.Event, opts SyncOptions) error {
	if err := r.store.UpsertEvent(ctx, event); err != nil {
		return fmt.Errorf("sink: upsert event %s: %w", event.ID, err)
	}

	s := &Sink{
		EventID:  event.ID,
		AppID:    event.BoardID, // board owns the app scoping upstream; app_id threaded by caller
		SinkType: deriveSinkType(event.EventType),
	}

	if opts.PAT != "" {
		enc, err := r.encryptionKey.Encrypt([]byte(opts.PAT))
		if err != nil {
			return fmt.Errorf("sink: encrypt PAT for event %s: %w", event.ID, err)
		}
		s.PATEncrypted = &enc
	}
	if opts.OAuthTokens != "" {
		enc, err := r.encryptionKey.Encrypt([]byte(opts.OAuthTokens))
		if err != nil {
			return fmt.Errorf("sink: encrypt oauth tokens for event %s: %w", event.ID, err)
		}
		s.OAuthTokensEncrypted = &enc
	}
	if opts.WebhookSecret != "" {
		s.WebhookSecret = &opts.WebhookSecret
	}
	if opts.CronExpr != "" {
		s.CronExpression = &opts.CronExpr
		s.CronTimezone = &opts.CronTimezone
	}

	if err := r.store.UpsertSink(ctx, s); err != nil {
		return fmt.Errorf("sink: upsert sink for event %s: %w", event.ID, err)
	}

	if s.SinkType == TypeCron && s.CronExpression != nil {
		backend := r.schedulerByType[TypeCron]
		cfg := scheduler.Config{Timezone: opts.CronTimezone}
		exists, err := backend.ScheduleExists(ctx, event.ID)
		if err != nil {
			return fmt.Errorf("sink: check schedule existence for event %s: %w", event.ID, err)
		}
		if exists {
			err = backend.UpdateSchedule(ctx, event.ID, *s.CronExpression, cfg)
		} else {
			err = backend.CreateSchedule(ctx, event.ID, *s.CronExpression, cfg)
		}
		if err != nil {
			return fmt.Errorf("sink: sync schedule for event %s: %w", event.ID, err)
		}
	}

	return nil
}

// DeleteEventWithSink deletes the scheduler entry first, then the sink row,
// then the event row, so a partial failure never leaves an orphan schedule
//.
func (r *Registry) DeleteEventWithSink(ctx context.Context, eventID string) error {
	existing, err := r.store.GetSink(ctx, eventID)
	if err != nil {
		return fmt.Errorf("sink: read sink for event %s: %w", eventID, err)
	}
	if existing != nil && existing.SinkType == TypeCron {
		if backend, ok := r.schedulerByType[TypeCron]; ok {
			if err := backend.DeleteSchedule(ctx, eventID); err != nil {
				return fmt.Errorf("sink: delete schedule for event %s: %w", eventID, err)
			}
		}
	}
	if err := r.store.DeleteSink(ctx, eventID); err != nil {
		return fmt.Errorf("sink: delete sink row for event %s: %w", eventID, err)
	}
	if err := r.store.DeleteEvent(ctx, eventID); err != nil {
		return fmt.Errorf("sink: delete event row %s: %w", eventID, err)
	}
	return nil
}

// DecryptPAT returns the decrypted PAT, or nil if unset/undecryptable.
func (s *Sink) DecryptPAT(key *EncryptionKey) []byte {
	if s.PATEncrypted == nil {
		return nil
	}
	return key.Decrypt(*s.PATEncrypted)
}

// DecryptOAuthTokens returns the decrypted OAuth tokens JSON, or nil.
func (s *Sink) DecryptOAuthTokens(key *EncryptionKey) []byte {
	if s.OAuthTokensEncrypted == nil {
		return nil
	}
	return key.Decrypt(*s.OAuthTokensEncrypted)
}
