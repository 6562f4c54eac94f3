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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Log.AddSource {
		t.Errorf("expected log add_source false, got true")
	}

	if cfg.Daemon.MaxConcurrentRuns != 10 {
		t.Errorf("expected max concurrent runs 10, got %d", cfg.Daemon.MaxConcurrentRuns)
	}
	if cfg.Daemon.DefaultTimeout != 30*time.Minute {
		t.Errorf("expected default timeout 30m, got %v", cfg.Daemon.DefaultTimeout)
	}
	if cfg.Daemon.Backend.Type != "memory" {
		t.Errorf("expected backend type memory, got %q", cfg.Daemon.Backend.Type)
	}
	if cfg.Daemon.Observability.Enabled {
		t.Errorf("expected observability disabled by default")
	}
	if cfg.Security.DefaultProfile == "" {
		t.Errorf("expected a default security profile")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
			errText: "log.level must be one of [debug, info, warn, warning, error]",
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Log.Format = "invalid"
			},
			wantErr: true,
			errText: "log.format must be one of [json, text]",
		},
		{
			name: "public API enabled without tcp address",
			modify: func(c *Config) {
				c.Daemon.Listen.PublicAPI.Enabled = true
			},
			wantErr: true,
			errText: "daemon.listen.public_api.tcp is required",
		},
		{
			name: "endpoint missing board id",
			modify: func(c *Config) {
				c.Daemon.Endpoints = EndpointsConfig{
					Enabled:   true,
					Endpoints: []EndpointEntry{{Name: "ep1"}},
				}
			},
			wantErr: true,
			errText: "board_id is required",
		},
		{
			name: "duplicate endpoint names",
			modify: func(c *Config) {
				c.Daemon.Endpoints = EndpointsConfig{
					Enabled: true,
					Endpoints: []EndpointEntry{
						{Name: "ep1", BoardID: "b1"},
						{Name: "ep1", BoardID: "b2"},
					},
				}
			},
			wantErr: true,
			errText: "duplicate endpoint name",
		},
		{
			name: "invalid rate limit format",
			modify: func(c *Config) {
				c.Daemon.Endpoints = EndpointsConfig{
					Enabled:   true,
					Endpoints: []EndpointEntry{{Name: "ep1", BoardID: "b1", RateLimit: "garbage"}},
				}
			},
			wantErr: true,
			errText: "invalid rate_limit format",
		},
		{
			name: "observability enabled with zero retention",
			modify: func(c *Config) {
				c.Daemon.Observability.Enabled = true
				c.Daemon.Observability.Storage.Retention.TraceDays = 0
			},
			wantErr: true,
			errText: "trace_days must be positive",
		},
		{
			name: "observability sampling rate out of range",
			modify: func(c *Config) {
				c.Daemon.Observability.Enabled = true
				c.Daemon.Observability.Sampling.Enabled = true
				c.Daemon.Observability.Sampling.Rate = 1.5
			},
			wantErr: true,
			errText: "sampling.rate must be between 0.0 and 1.0",
		},
		{
			name: "audit enabled without destination",
			modify: func(c *Config) {
				c.Daemon.Observability.Enabled = true
				c.Daemon.Observability.Audit.Enabled = true
			},
			wantErr: true,
			errText: "audit.destination is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error to contain %q, got %q", tt.errText, err.Error())
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	envVars := map[string]string{
		"LOG_LEVEL":                     "debug",
		"LOG_FORMAT":                    "text",
		"LOG_SOURCE":                    "1",
		"CONDUCTOR_MAX_CONCURRENT_RUNS": "25",
		"CONDUCTOR_DRAIN_TIMEOUT":       "45s",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format 'text', got %q", cfg.Log.Format)
	}
	if !cfg.Log.AddSource {
		t.Errorf("expected log add_source true, got false")
	}
	if cfg.Daemon.MaxConcurrentRuns != 25 {
		t.Errorf("expected max concurrent runs 25, got %d", cfg.Daemon.MaxConcurrentRuns)
	}
	if cfg.Daemon.DrainTimeout != 45*time.Second {
		t.Errorf("expected drain timeout 45s, got %v", cfg.Daemon.DrainTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log:
  level: warn
  format: text
  add_source: true

daemon:
  max_concurrent_runs: 7
  backend:
    type: postgres
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.Daemon.MaxConcurrentRuns != 7 {
		t.Errorf("expected max concurrent runs 7, got %d", cfg.Daemon.MaxConcurrentRuns)
	}
	if cfg.Daemon.Backend.Type != "postgres" {
		t.Errorf("expected backend type postgres, got %q", cfg.Daemon.Backend.Type)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log:
  level: info
daemon:
  max_concurrent_runs: 7
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug' from env, got %q", cfg.Log.Level)
	}
	if cfg.Daemon.MaxConcurrentRuns != 7 {
		t.Errorf("expected max concurrent runs 7 from file, got %d", cfg.Daemon.MaxConcurrentRuns)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Errorf("expected error for nonexistent file, got nil")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Errorf("expected error for invalid YAML, got nil")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid-config.yaml")

	yamlContent := `
log:
  level: bogus
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	_, err := Load(configPath)
	if err == nil {
		t.Errorf("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation error message, got %q", err.Error())
	}
}

// Helper functions for environment management
func saveEnv() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}

func restoreEnv(env map[string]string) {
	os.Clearenv()
	for k, v := range env {
		os.Setenv(k, v)
	}
}

func clearConfigEnv() {
	envVars := []string{
		"LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"CONDUCTOR_SOCKET", "CONDUCTOR_API_KEY",
		"CONDUCTOR_LISTEN_SOCKET", "CONDUCTOR_TCP_ADDR",
		"CONDUCTOR_PUBLIC_API_ENABLED", "CONDUCTOR_PUBLIC_API_TCP",
		"CONDUCTOR_PID_FILE", "CONDUCTOR_DATA_DIR", "CONDUCTOR_EVENTS_DIR",
		"CONDUCTOR_DAEMON_LOG_LEVEL", "CONDUCTOR_DAEMON_LOG_FORMAT",
		"CONDUCTOR_MAX_CONCURRENT_RUNS", "CONDUCTOR_DEFAULT_TIMEOUT",
		"CONDUCTOR_SHUTDOWN_TIMEOUT", "CONDUCTOR_DRAIN_TIMEOUT",
		"CONDUCTOR_CHECKPOINTS_ENABLED",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

// TestMinimalConfigRoundTrip verifies that a config with only a handful of
// fields set still loads with the rest filled in from defaults.
func TestMinimalConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	yamlContent := `
daemon:
  backend:
    type: postgres
    postgres:
      connection_string: postgres://localhost/conductor
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write minimal config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load minimal config: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Daemon.MaxConcurrentRuns != 10 {
		t.Errorf("expected max concurrent runs 10, got %d", cfg.Daemon.MaxConcurrentRuns)
	}
	if cfg.Daemon.Backend.Postgres.ConnectionString != "postgres://localhost/conductor" {
		t.Errorf("expected postgres connection string to be preserved, got %q", cfg.Daemon.Backend.Postgres.ConnectionString)
	}
}
