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

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
)

// MemoryProvider is a reference Provider: it issues an opaque JSON payload
// describing the requested grants instead of calling out to a cloud STS
// endpoint. It is meant for local development and tests; production
// deployments inject a real per-cloud Provider.
type MemoryProvider struct{}

// NewMemoryProvider builds a MemoryProvider.
func NewMemoryProvider() *MemoryProvider { return &MemoryProvider{} }

type memoryCredentialPayload struct {
	Sub    string      `json:"sub"`
	AppID  string      `json:"app_id"`
	Mode   Mode        `json:"mode"`
	Grants []PathGrant `json:"grants"`
}

// Issue implements Provider by serializing the requested grants verbatim; the
// result carries no actual storage access.
func (MemoryProvider) Issue(ctx context.Context, sub, appID string, mode Mode, grants []PathGrant) ([]byte, error) {
	payload, err := json.Marshal(memoryCredentialPayload{Sub: sub, AppID: appID, Mode: mode, Grants: grants})
	if err != nil {
		return nil, fmt.Errorf("credentials: marshal memory payload: %w", err)
	}
	return payload, nil
}
