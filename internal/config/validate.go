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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flow-like/core/pkg/graph"
)

// ValidateEventPublicAPIRequirements validates that every webhook/HTTP event
// definition under Daemon.EventsDir has a reachable public listener. Returns
// an error listing all events that require the public API when it's
// disabled.
func ValidateEventPublicAPIRequirements(cfg *Config) error {
	if cfg.Daemon.Listen.PublicAPI.Enabled {
		return nil
	}

	if cfg.Daemon.EventsDir == "" {
		return nil
	}

	var eventsRequiringPublicAPI []string

	err := filepath.Walk(cfg.Daemon.EventsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		var ev graph.Event
		if jsonErr := json.Unmarshal(data, &ev); jsonErr != nil {
			return nil
		}

		switch ev.EventType {
		case graph.EventTypeWebhook:
			eventsRequiringPublicAPI = append(eventsRequiringPublicAPI,
				fmt.Sprintf("%s (webhook)", ev.ID))
		case graph.EventTypeHTTP:
			eventsRequiringPublicAPI = append(eventsRequiringPublicAPI,
				fmt.Sprintf("%s (http)", ev.ID))
		}

		return nil
	})
	if err != nil {
		return nil
	}

	if len(eventsRequiringPublicAPI) > 0 {
		return fmt.Errorf(
			"public API is disabled but the following events require it:\n  %s\n\n"+
				"To fix this, either:\n"+
				"  1. Enable the public API in the daemon config:\n"+
				"     daemon:\n"+
				"       listen:\n"+
				"         public_api:\n"+
				"           enabled: true\n"+
				"           tcp: 127.0.0.1:8081\n"+
				"  2. Or set environment variables:\n"+
				"     CONDUCTOR_PUBLIC_API_ENABLED=true\n"+
				"     CONDUCTOR_PUBLIC_API_TCP=127.0.0.1:8081\n"+
				"  3. Or remove the webhook/http events that don't need external triggers",
			strings.Join(eventsRequiringPublicAPI, "\n  "),
		)
	}

	return nil
}
