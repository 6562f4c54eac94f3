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

// Package credentials derives short-lived, path-scoped storage credentials
// from a (subject, app, access-mode) triple. Issuance per cloud provider is an
// external collaborator; this package only defines the capability and its
// cache.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mode is the access mode a CredentialsScope was derived for.
type Mode string

const (
	ModeEditApp     Mode = "EditApp"
	ModeReadApp     Mode = "ReadApp"
	ModeInvokeNone  Mode = "InvokeNone"
	ModeInvokeRead  Mode = "InvokeRead"
	ModeInvokeWrite Mode = "InvokeWrite"
	ModeReadLogs    Mode = "ReadLogs"
)

// Right is a single storage permission granted over a path prefix.
type Right string

const (
	RightRead  Right = "read"
	RightWrite Right = "write"
	RightList  Right = "list"
)

// PathGrant scopes a set of Rights to one storage path prefix.
type PathGrant struct {
	Prefix string
	Rights []Right
}

// Scope is the derived, ephemeral credential bundle for one (sub, app, mode).
type Scope struct {
	Sub    string
	AppID  string
	Mode   Mode
	Grants []PathGrant
	// Credentials is the provider-opaque payload (STS tokens, signed URLs,
	// ...) serialized by the concrete Provider. The control plane never
	// inspects it beyond passing it through DispatchRequest.CredentialsJSON.
	Credentials []byte
	ExpiresAt   time.Time
}

// Provider issues the provider-specific credential payload for a Scope's
// grants. Concrete implementations (per-cloud STS, signed URLs, ...) are
// external collaborators; the core only depends on this interface.
type Provider interface {
	Issue(ctx context.Context, sub, appID string, mode Mode, grants []PathGrant) ([]byte, error)
}

// deriveGrants maps a Mode to the path-prefix rights it carries. Grounded
// directly on CredentialsScope description.
func deriveGrants(appID, sub string) map[Mode][]PathGrant {
	appPrefix := fmt.Sprintf("apps/%s", appID)
	userPrefix := fmt.Sprintf("users/%s/apps/%s", sub, appID)
	logsPrefix := fmt.Sprintf("logs/runs/%s", appID)
	tmpPrefix := fmt.Sprintf("tmp/global/apps/%s", appID)

	return map[Mode][]PathGrant{
		ModeEditApp: {
			{Prefix: appPrefix, Rights: []Right{RightRead, RightWrite, RightList}},
			{Prefix: userPrefix, Rights: []Right{RightRead, RightWrite, RightList}},
		},
		ModeReadApp: {
			{Prefix: appPrefix, Rights: []Right{RightRead, RightList}},
		},
		ModeInvokeNone: {},
		ModeInvokeRead: {
			{Prefix: appPrefix, Rights: []Right{RightRead}},
			{Prefix: tmpPrefix, Rights: []Right{RightRead}},
		},
		ModeInvokeWrite: {
			{Prefix: appPrefix, Rights: []Right{RightRead}},
			{Prefix: tmpPrefix, Rights: []Right{RightRead, RightWrite}},
			{Prefix: userPrefix, Rights: []Right{RightRead, RightWrite}},
			{Prefix: logsPrefix, Rights: []Right{RightWrite}},
		},
		ModeReadLogs: {
			{Prefix: logsPrefix, Rights: []Right{RightRead, RightList}},
		},
	}
}

// cacheKey is a typed key per the re-architecture guidance in :
// no ad-hoc format!("{}:{}:{}") strings.
type cacheKey struct {
	sub   string
	appID string
	mode  Mode
}

type cacheEntry struct {
	scope     *Scope
	expiresAt time.Time
}

// Cache TTL-caches derived scopes keyed by (sub, app_id, mode), bounded to a
// 1-hour default.
type Cache struct {
	provider Provider
	ttl      time.Duration
	mu       sync.RWMutex
	entries  map[cacheKey]cacheEntry
	now      func() time.Time
}

const maxTTL = time.Hour

// NewCache builds a credentials cache over the given Provider. ttl is clamped
// to the spec's 1-hour ceiling.
func NewCache(provider Provider, ttl time.Duration) *Cache {
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		entries:  make(map[cacheKey]cacheEntry),
		now:      time.Now,
	}
}

// Derive returns a cached Scope if still fresh, otherwise issues a new one via
// the Provider and caches it.
func (c *Cache) Derive(ctx context.Context, sub, appID string, mode Mode) (*Scope, error) {
	key := cacheKey{sub: sub, appID: appID, mode: mode}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.scope, nil
	}

	grants := deriveGrants(appID, sub)[mode]
	payload, err := c.provider.Issue(ctx, sub, appID, mode, grants)
	if err != nil {
		return nil, fmt.Errorf("credentials: issue scope for %s/%s/%s: %w", sub, appID, mode, err)
	}

	expiresAt := c.now().Add(c.ttl)
	scope := &Scope{
		Sub:         sub,
		AppID:       appID,
		Mode:        mode,
		Grants:      grants,
		Credentials: payload,
		ExpiresAt:   expiresAt,
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{scope: scope, expiresAt: expiresAt}
	c.mu.Unlock()

	return scope, nil
}
