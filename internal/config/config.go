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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	conductorerrors "github.com/flow-like/core/pkg/errors"
	"github.com/flow-like/core/pkg/security"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the daemon's optional YAML deployment configuration. It covers
// operational topology (listeners, backend, distributed mode, trigger
// surfaces) rather than the deployment secrets ExecutionConfig reads
// straight from the environment; see execution.go.
type Config struct {
	Log      LogConfig               `yaml:"log"`
	Daemon   DaemonConfig            `yaml:"daemon"`
	Security security.SecurityConfig `yaml:"security"`
}

// DaemonConfig configures the control plane process: its listeners, trigger
// surfaces (webhooks, schedules, endpoints, file watchers), storage backend,
// and observability pipeline.
type DaemonConfig struct {
	// SocketPath is the Unix socket path for local admin/debug access.
	// Environment: CONDUCTOR_SOCKET
	// No default is applied; Default() sets the default socket path on
	// Listen.SocketPath instead.
	SocketPath string `yaml:"socket_path,omitempty"`

	// APIKey authenticates local admin/debug access over the socket.
	// Environment: CONDUCTOR_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// Listen configures the daemon's network listeners.
	Listen ListenConfig `yaml:"listen,omitempty"`

	// PIDFile is the path to the PID file. Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// DataDir is the directory for daemon state (checkpoints, trace storage).
	DataDir string `yaml:"data_dir,omitempty"`

	// EventsDir is a directory of serialized event trigger definitions
	// (see pkg/graph.Event) scanned at startup to validate that every
	// webhook/HTTP event has a reachable public listener; see validate.go.
	EventsDir string `yaml:"events_dir,omitempty"`

	// Log is daemon-specific logging configuration, separate from Config.Log.
	Log DaemonLogConfig `yaml:"log,omitempty"`

	// MaxConcurrentRuns limits concurrent run executions.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs,omitempty"`

	// DefaultTimeout is the default timeout applied to a run when its event
	// does not specify one.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// DrainTimeout is the maximum duration to wait for active runs to
	// complete during shutdown. When the daemon receives SIGTERM, it stops
	// accepting new runs and waits up to this duration before forcing
	// shutdown.
	// Environment: CONDUCTOR_DRAIN_TIMEOUT
	// Default: 30s
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`

	// RunRetention is how long completed runs are kept in memory before
	// cleanup. The cleanup loop removes runs older than this duration; it
	// only affects in-memory bookkeeping, not persisted traces.
	// Default: 24h
	RunRetention time.Duration `yaml:"run_retention,omitempty"`

	// CheckpointsEnabled enables checkpoint saving for crash recovery.
	CheckpointsEnabled bool `yaml:"checkpoints_enabled"`

	// Webhooks configures named webhook routes.
	Webhooks WebhooksConfig `yaml:"webhooks,omitempty"`

	// Schedules configures cron-triggered runs.
	Schedules SchedulesConfig `yaml:"schedules,omitempty"`

	// Endpoints configures named API endpoints.
	Endpoints EndpointsConfig `yaml:"endpoints,omitempty"`

	// FileWatchers configures file system watchers.
	FileWatchers FileWatchersConfig `yaml:"file_watchers,omitempty"`

	// Auth configures the daemon's own authentication, separate from
	// per-event credential scopes.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Backend configures the storage backend.
	Backend BackendConfig `yaml:"backend,omitempty"`

	// Distributed configures distributed mode.
	Distributed DistributedConfig `yaml:"distributed,omitempty"`

	// Observability configures tracing and metrics.
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// ListenConfig configures how the daemon listens for connections.
type ListenConfig struct {
	// SocketPath is the Unix socket path (default).
	SocketPath string `yaml:"socket_path,omitempty"`

	// TCPAddr is an optional TCP address to listen on (e.g., ":9000").
	TCPAddr string `yaml:"tcp_addr,omitempty"`

	// AllowRemote must be true to bind to non-localhost TCP addresses.
	AllowRemote bool `yaml:"allow_remote"`

	// TLSCert is the path to TLS certificate for HTTPS.
	TLSCert string `yaml:"tls_cert,omitempty"`

	// TLSKey is the path to TLS key for HTTPS.
	TLSKey string `yaml:"tls_key,omitempty"`

	// PublicAPI configures an optional public-facing API server for
	// webhooks and triggers.
	PublicAPI PublicAPIConfig `yaml:"public_api,omitempty"`
}

// PublicAPIConfig configures the public-facing API server. The public API
// serves webhooks and HTTP-triggered runs on a separate port from the
// control plane, enabling deployments where the admin surface stays
// private while trigger endpoints are publicly reachable.
type PublicAPIConfig struct {
	// Enabled activates the public API server (default: false). When
	// disabled, webhook and HTTP trigger endpoints are not available.
	// Environment: CONDUCTOR_PUBLIC_API_ENABLED
	Enabled bool `yaml:"enabled"`

	// TCP is the TCP address to bind the public API server (e.g., ":9001",
	// "0.0.0.0:9001"). Required when Enabled is true.
	// Environment: CONDUCTOR_PUBLIC_API_TCP
	TCP string `yaml:"tcp,omitempty"`
}

// DaemonLogConfig configures daemon-specific logging (separate from
// Config.Log, which covers the binary's own startup logging).
type DaemonLogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format,omitempty"`
}

// AuthConfig configures daemon authentication (separate from per-event
// credential scopes, see pkg/credentials).
type AuthConfig struct {
	// Enabled controls whether authentication is required.
	Enabled bool `yaml:"enabled"`

	// APIKeys is the list of valid API keys.
	APIKeys []string `yaml:"api_keys,omitempty"`

	// AllowUnixSocket allows unauthenticated access via Unix socket.
	AllowUnixSocket bool `yaml:"allow_unix_socket"`
}

// BackendConfig configures the storage backend.
type BackendConfig struct {
	// Type is the backend type: "memory" or "postgres".
	Type string `yaml:"type,omitempty"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection URL.
	ConnectionString string `yaml:"connection_string,omitempty"`

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`

	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty"`

	// ConnMaxLifetimeSeconds sets the maximum lifetime of a connection.
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds,omitempty"`
}

// DistributedConfig configures distributed mode settings.
type DistributedConfig struct {
	// Enabled activates distributed mode (requires Postgres backend).
	Enabled bool `yaml:"enabled"`

	// InstanceID uniquely identifies this daemon instance. If empty, a
	// random ID is generated.
	InstanceID string `yaml:"instance_id,omitempty"`

	// LeaderElection enables leader election for the scheduler.
	LeaderElection bool `yaml:"leader_election"`

	// StalledJobTimeoutSeconds is how long before a locked job is
	// considered stalled.
	StalledJobTimeoutSeconds int `yaml:"stalled_job_timeout_seconds,omitempty"`
}

// WebhooksConfig configures webhook handling.
type WebhooksConfig struct {
	// Routes defines webhook routes.
	Routes []WebhookRoute `yaml:"routes,omitempty"`
}

// WebhookRoute defines a webhook route mapping.
type WebhookRoute struct {
	// Path is the URL path (e.g., "/webhooks/github").
	Path string `yaml:"path"`

	// Source is the webhook source type (github, slack, generic).
	Source string `yaml:"source"`

	// BoardID is the board to trigger.
	BoardID string `yaml:"board_id"`

	// Events limits which source event types trigger the board.
	Events []string `yaml:"events,omitempty"`

	// Secret is used for signature verification.
	Secret string `yaml:"secret,omitempty"`

	// InputMapping defines how to map payload fields to event inputs.
	InputMapping map[string]string `yaml:"input_mapping,omitempty"`
}

// SchedulesConfig configures cron-triggered runs.
type SchedulesConfig struct {
	// Enabled controls whether the scheduler runs.
	Enabled bool `yaml:"enabled"`

	// Schedules defines the scheduled runs.
	Schedules []ScheduleEntry `yaml:"schedules,omitempty"`
}

// ScheduleEntry defines a scheduled run.
type ScheduleEntry struct {
	// Name is the unique schedule identifier.
	Name string `yaml:"name"`

	// Cron is the cron expression.
	Cron string `yaml:"cron"`

	// BoardID is the board to run.
	BoardID string `yaml:"board_id"`

	// Inputs are the event inputs.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Enabled controls if this schedule is active.
	Enabled bool `yaml:"enabled"`

	// Timezone for cron evaluation.
	Timezone string `yaml:"timezone,omitempty"`
}

// EndpointsConfig configures named API endpoints.
type EndpointsConfig struct {
	// Enabled controls whether endpoints are active.
	Enabled bool `yaml:"enabled"`

	// Endpoints defines the available API endpoints.
	Endpoints []EndpointEntry `yaml:"endpoints,omitempty"`
}

// EndpointEntry defines a named API endpoint.
type EndpointEntry struct {
	// Name is the unique endpoint identifier.
	Name string `yaml:"name"`

	// Description provides documentation for this endpoint.
	Description string `yaml:"description,omitempty"`

	// BoardID is the board to invoke.
	BoardID string `yaml:"board_id"`

	// Inputs are default event inputs merged with caller-provided inputs.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Scopes defines which credential scopes can call this endpoint.
	Scopes []string `yaml:"scopes,omitempty"`

	// RateLimit specifies a request limit (e.g., "100/hour", "10/minute").
	RateLimit string `yaml:"rate_limit,omitempty"`

	// Timeout is the maximum execution time.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Public indicates this endpoint requires no authentication.
	Public bool `yaml:"public,omitempty"`
}

// FileWatchersConfig configures file system watchers.
type FileWatchersConfig struct {
	// Enabled controls whether file watchers are active.
	Enabled bool `yaml:"enabled"`

	// Watchers defines the configured file watchers.
	Watchers []FileWatcherEntry `yaml:"watchers,omitempty"`
}

// FileWatcherEntry defines a file system watcher.
type FileWatcherEntry struct {
	// Name is the unique watcher identifier.
	Name string `yaml:"name"`

	// BoardID is the board to run when events occur.
	BoardID string `yaml:"board_id"`

	// Paths are the filesystem paths to watch.
	Paths []string `yaml:"paths"`

	// IncludePatterns are glob patterns for files to include (optional).
	IncludePatterns []string `yaml:"include_patterns,omitempty"`

	// ExcludePatterns are glob patterns for files to exclude (optional).
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`

	// Events are the event types to watch (created, modified, deleted, renamed).
	// Defaults to ["created"] if not specified.
	Events []string `yaml:"events,omitempty"`

	// DebounceWindow is the duration to wait for additional events (e.g., "1s", "500ms").
	DebounceWindow string `yaml:"debounce_window,omitempty"`

	// BatchMode enables batching of events during the debounce window.
	BatchMode bool `yaml:"batch_mode,omitempty"`

	// MaxTriggersPerMinute limits the rate of run triggers (0 = unlimited).
	MaxTriggersPerMinute int `yaml:"max_triggers_per_minute,omitempty"`

	// Inputs are default event inputs passed to the run.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Enabled controls if this watcher is active.
	Enabled bool `yaml:"enabled"`
}

// ObservabilityConfig configures tracing and observability.
type ObservabilityConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name,omitempty"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"service_version,omitempty"`

	// Sampling configures trace sampling.
	Sampling SamplingConfig `yaml:"sampling,omitempty"`

	// Storage configures trace storage.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Exporters configures OTLP export destinations.
	Exporters []ExporterConfig `yaml:"exporters,omitempty"`

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int `yaml:"batch_size,omitempty"`

	// BatchInterval is how often to flush spans in seconds (default: 5).
	BatchInterval int `yaml:"batch_interval,omitempty"`

	// Redaction configures sensitive data handling.
	Redaction RedactionConfig `yaml:"redaction,omitempty"`

	// Audit configures audit logging.
	Audit AuditConfig `yaml:"audit,omitempty"`
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Enabled activates sampling (default: false - sample all).
	Enabled bool `yaml:"enabled"`

	// Type is the sampling strategy: "head" or "tail".
	Type string `yaml:"type,omitempty"`

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	Rate float64 `yaml:"rate,omitempty"`

	// AlwaysSampleErrors samples all traces with errors.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`
}

// StorageConfig controls local trace storage.
type StorageConfig struct {
	// Backend is the storage type: "sqlite" or "memory".
	Backend string `yaml:"backend,omitempty"`

	// Path is the SQLite database path (for backend=sqlite).
	Path string `yaml:"path,omitempty"`

	// Retention defines how long to keep traces.
	Retention RetentionConfig `yaml:"retention,omitempty"`
}

// RetentionConfig defines data retention policies.
type RetentionConfig struct {
	// TraceDays is how long to keep trace data (in days).
	TraceDays int `yaml:"trace_days,omitempty"`

	// EventDays is how long to keep event data (in days).
	EventDays int `yaml:"event_days,omitempty"`

	// AggregateDays is how long to keep aggregated metrics (in days).
	AggregateDays int `yaml:"aggregate_days,omitempty"`

	// CleanupInterval is how often to run cleanup (in hours). Default: 1 hour.
	CleanupInterval int `yaml:"cleanup_interval,omitempty"`
}

// ExporterConfig defines an OTLP export destination.
type ExporterConfig struct {
	// Type is the exporter type: "otlp", "otlp-http", or "console".
	Type string `yaml:"type"`

	// Endpoint is the OTLP receiver URL.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Headers are additional HTTP headers for authentication.
	Headers map[string]string `yaml:"headers,omitempty"`

	// TLS configures secure connections.
	TLS TLSConfig `yaml:"tls,omitempty"`

	// TimeoutSeconds is the export timeout in seconds.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// TLSConfig configures TLS for exporters.
type TLSConfig struct {
	// Enabled activates TLS.
	Enabled bool `yaml:"enabled"`

	// VerifyCertificate controls certificate validation.
	VerifyCertificate bool `yaml:"verify_certificate"`

	// CACertPath is the path to the CA certificate.
	CACertPath string `yaml:"ca_cert_path,omitempty"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	// Level is the redaction mode: "none", "standard", or "strict".
	Level string `yaml:"level,omitempty"`

	// Patterns are custom redaction patterns.
	Patterns []RedactionPattern `yaml:"patterns,omitempty"`
}

// RedactionPattern defines a sensitive data pattern.
type RedactionPattern struct {
	// Name identifies this pattern.
	Name string `yaml:"name"`

	// Regex is the pattern to match.
	Regex string `yaml:"regex"`

	// Replacement is the string to substitute.
	Replacement string `yaml:"replacement,omitempty"`
}

// AuditConfig configures audit logging for API access.
type AuditConfig struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `yaml:"enabled"`

	// Destination is where audit logs are written: "file", "stdout", or "syslog".
	Destination string `yaml:"destination,omitempty"`

	// FilePath is the path to the audit log file (when destination=file).
	FilePath string `yaml:"file_path,omitempty"`

	// TrustedProxies is a list of IP addresses to trust X-Forwarded-For from.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LogConfig configures the binary's own startup logging, before DaemonConfig
// (which may override level/format) is available.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	socketPath := defaultSocketPath()
	dataDir := defaultDataDir()

	return &Config{
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Security: security.SecurityConfig{
			DefaultProfile: security.ProfileStandard,
			Audit: security.AuditConfig{
				Enabled: false,
			},
		},
		Daemon: DaemonConfig{
			Listen: ListenConfig{
				SocketPath:  socketPath,
				AllowRemote: false,
			},
			PIDFile:   "",
			DataDir:   dataDir,
			EventsDir: "./events",
			Log: DaemonLogConfig{
				Level:  "info",
				Format: "text",
			},
			MaxConcurrentRuns:  10,
			DefaultTimeout:     30 * time.Minute,
			ShutdownTimeout:    30 * time.Second,
			DrainTimeout:       30 * time.Second,
			RunRetention:       24 * time.Hour,
			CheckpointsEnabled: true,
			Backend: BackendConfig{
				Type: "memory",
			},
			Distributed: DistributedConfig{
				Enabled:                  false,
				LeaderElection:           true,
				StalledJobTimeoutSeconds: 300,
			},
			Auth: AuthConfig{
				Enabled:         true,
				AllowUnixSocket: true,
			},
			Observability: ObservabilityConfig{
				Enabled:        false,
				ServiceName:    "conductor",
				ServiceVersion: "unknown",
				Sampling: SamplingConfig{
					Enabled:            false,
					Type:               "head",
					Rate:               1.0,
					AlwaysSampleErrors: true,
				},
				Storage: StorageConfig{
					Backend: "sqlite",
					Path:    "",
					Retention: RetentionConfig{
						TraceDays:     7,
						EventDays:     30,
						AggregateDays: 90,
					},
				},
				Exporters: nil,
				Redaction: RedactionConfig{
					Level:    "strict",
					Patterns: nil,
				},
			},
		},
	}
}

// Load loads configuration from environment variables and optionally from a
// YAML file. Environment variables take precedence over file-based
// configuration. If configPath is empty, only environment variables are
// used (after trying the default config path).
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		defaultPath, err := ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &conductorerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults. This allows
// minimal configs to work without specifying every field explicitly.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Security.DefaultProfile == "" {
		c.Security.DefaultProfile = defaults.Security.DefaultProfile
	}

	if c.Daemon.Listen.SocketPath == "" {
		c.Daemon.Listen.SocketPath = defaults.Daemon.Listen.SocketPath
	}
	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = defaults.Daemon.DataDir
	}
	if c.Daemon.EventsDir == "" {
		c.Daemon.EventsDir = defaults.Daemon.EventsDir
	}
	if c.Daemon.Log.Level == "" {
		c.Daemon.Log.Level = defaults.Daemon.Log.Level
	}
	if c.Daemon.Log.Format == "" {
		c.Daemon.Log.Format = defaults.Daemon.Log.Format
	}
	if c.Daemon.MaxConcurrentRuns == 0 {
		c.Daemon.MaxConcurrentRuns = defaults.Daemon.MaxConcurrentRuns
	}
	if c.Daemon.DefaultTimeout == 0 {
		c.Daemon.DefaultTimeout = defaults.Daemon.DefaultTimeout
	}
	if c.Daemon.ShutdownTimeout == 0 {
		c.Daemon.ShutdownTimeout = defaults.Daemon.ShutdownTimeout
	}
	if c.Daemon.DrainTimeout == 0 {
		c.Daemon.DrainTimeout = defaults.Daemon.DrainTimeout
	}
	if c.Daemon.RunRetention == 0 {
		c.Daemon.RunRetention = defaults.Daemon.RunRetention
	}
	if c.Daemon.Backend.Type == "" {
		c.Daemon.Backend.Type = defaults.Daemon.Backend.Type
	}
	if c.Daemon.Distributed.StalledJobTimeoutSeconds == 0 {
		c.Daemon.Distributed.StalledJobTimeoutSeconds = defaults.Daemon.Distributed.StalledJobTimeoutSeconds
	}
	if c.Daemon.Observability.ServiceName == "" {
		c.Daemon.Observability.ServiceName = defaults.Daemon.Observability.ServiceName
	}
	if c.Daemon.Observability.ServiceVersion == "" {
		c.Daemon.Observability.ServiceVersion = defaults.Daemon.Observability.ServiceVersion
	}
	if c.Daemon.Observability.Sampling.Type == "" {
		c.Daemon.Observability.Sampling.Type = defaults.Daemon.Observability.Sampling.Type
	}
	if c.Daemon.Observability.Sampling.Rate == 0 {
		c.Daemon.Observability.Sampling.Rate = defaults.Daemon.Observability.Sampling.Rate
	}
	if c.Daemon.Observability.Storage.Backend == "" {
		c.Daemon.Observability.Storage.Backend = defaults.Daemon.Observability.Storage.Backend
	}
	if c.Daemon.Observability.Storage.Retention.TraceDays == 0 {
		c.Daemon.Observability.Storage.Retention.TraceDays = defaults.Daemon.Observability.Storage.Retention.TraceDays
	}
	if c.Daemon.Observability.Storage.Retention.EventDays == 0 {
		c.Daemon.Observability.Storage.Retention.EventDays = defaults.Daemon.Observability.Storage.Retention.EventDays
	}
	if c.Daemon.Observability.Storage.Retention.AggregateDays == 0 {
		c.Daemon.Observability.Storage.Retention.AggregateDays = defaults.Daemon.Observability.Storage.Retention.AggregateDays
	}
	if c.Daemon.Observability.Redaction.Level == "" {
		c.Daemon.Observability.Redaction.Level = defaults.Daemon.Observability.Redaction.Level
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("CONDUCTOR_SOCKET"); val != "" {
		c.Daemon.SocketPath = val
	}
	if val := os.Getenv("CONDUCTOR_API_KEY"); val != "" {
		c.Daemon.APIKey = val
	}
	if val := os.Getenv("CONDUCTOR_LISTEN_SOCKET"); val != "" {
		c.Daemon.Listen.SocketPath = val
	}
	if val := os.Getenv("CONDUCTOR_TCP_ADDR"); val != "" {
		c.Daemon.Listen.TCPAddr = val
	}
	if val := os.Getenv("CONDUCTOR_PUBLIC_API_ENABLED"); val != "" {
		c.Daemon.Listen.PublicAPI.Enabled = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONDUCTOR_PUBLIC_API_TCP"); val != "" {
		c.Daemon.Listen.PublicAPI.TCP = val
	}
	if val := os.Getenv("CONDUCTOR_PID_FILE"); val != "" {
		c.Daemon.PIDFile = val
	}
	if val := os.Getenv("CONDUCTOR_DATA_DIR"); val != "" {
		c.Daemon.DataDir = val
	}
	if val := os.Getenv("CONDUCTOR_EVENTS_DIR"); val != "" {
		c.Daemon.EventsDir = val
	}
	if val := os.Getenv("CONDUCTOR_DAEMON_LOG_LEVEL"); val != "" {
		c.Daemon.Log.Level = val
	}
	if val := os.Getenv("CONDUCTOR_DAEMON_LOG_FORMAT"); val != "" {
		c.Daemon.Log.Format = val
	}
	if val := os.Getenv("CONDUCTOR_MAX_CONCURRENT_RUNS"); val != "" {
		if runs, err := strconv.Atoi(val); err == nil {
			c.Daemon.MaxConcurrentRuns = runs
		}
	}
	if val := os.Getenv("CONDUCTOR_DEFAULT_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Daemon.DefaultTimeout = duration
		}
	}
	if val := os.Getenv("CONDUCTOR_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Daemon.ShutdownTimeout = duration
		}
	}
	if val := os.Getenv("CONDUCTOR_DRAIN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Daemon.DrainTimeout = duration
		}
	}
	if val := os.Getenv("CONDUCTOR_CHECKPOINTS_ENABLED"); val != "" {
		c.Daemon.CheckpointsEnabled = val == "1" || strings.ToLower(val) == "true"
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Daemon.Listen.PublicAPI.Enabled {
		if c.Daemon.Listen.PublicAPI.TCP == "" {
			errs = append(errs, "daemon.listen.public_api.tcp is required when public_api.enabled is true")
		}
	}

	if c.Daemon.Endpoints.Enabled {
		endpointNames := make(map[string]bool)
		for i, ep := range c.Daemon.Endpoints.Endpoints {
			if ep.Name == "" {
				errs = append(errs, fmt.Sprintf("daemon.endpoints.endpoints[%d]: name is required", i))
			} else {
				if endpointNames[ep.Name] {
					errs = append(errs, fmt.Sprintf("daemon.endpoints.endpoints[%d]: duplicate endpoint name %q", i, ep.Name))
				}
				endpointNames[ep.Name] = true
			}

			if ep.BoardID == "" {
				errs = append(errs, fmt.Sprintf("daemon.endpoints.endpoints[%d] (%s): board_id is required", i, ep.Name))
			}

			if ep.Timeout < 0 {
				errs = append(errs, fmt.Sprintf("daemon.endpoints.endpoints[%d] (%s): timeout must be non-negative, got %v", i, ep.Name, ep.Timeout))
			}

			if ep.RateLimit != "" {
				if err := validateRateLimitFormat(ep.RateLimit); err != nil {
					errs = append(errs, fmt.Sprintf("daemon.endpoints.endpoints[%d] (%s): %v", i, ep.Name, err))
				}
			}
		}
	}

	if c.Daemon.Observability.Enabled {
		ret := c.Daemon.Observability.Storage.Retention
		if ret.TraceDays <= 0 {
			errs = append(errs, fmt.Sprintf("daemon.observability.storage.retention.trace_days must be positive, got %d", ret.TraceDays))
		}
		if ret.EventDays <= 0 {
			errs = append(errs, fmt.Sprintf("daemon.observability.storage.retention.event_days must be positive, got %d", ret.EventDays))
		}
		if ret.AggregateDays <= 0 {
			errs = append(errs, fmt.Sprintf("daemon.observability.storage.retention.aggregate_days must be positive, got %d", ret.AggregateDays))
		}

		if c.Daemon.Observability.Sampling.Enabled {
			rate := c.Daemon.Observability.Sampling.Rate
			if rate < 0.0 || rate > 1.0 {
				errs = append(errs, fmt.Sprintf("daemon.observability.sampling.rate must be between 0.0 and 1.0, got %f", rate))
			}
		}

		if c.Daemon.Observability.Audit.Enabled {
			validDestinations := map[string]bool{"file": true, "stdout": true, "syslog": true}
			if c.Daemon.Observability.Audit.Destination == "" {
				errs = append(errs, "daemon.observability.audit.destination is required when audit.enabled is true")
			} else if !validDestinations[c.Daemon.Observability.Audit.Destination] {
				errs = append(errs, fmt.Sprintf("daemon.observability.audit.destination must be one of [file, stdout, syslog], got %q", c.Daemon.Observability.Audit.Destination))
			}

			if c.Daemon.Observability.Audit.Destination == "file" && c.Daemon.Observability.Audit.FilePath == "" {
				errs = append(errs, "daemon.observability.audit.file_path is required when audit.destination is 'file'")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateRateLimitFormat validates rate limit string format (e.g., "100/hour", "10/minute").
func validateRateLimitFormat(rateLimit string) error {
	parts := strings.Split(rateLimit, "/")
	if len(parts) != 2 {
		return fmt.Errorf("invalid rate_limit format %q, expected format: <count>/<unit> (e.g., 100/hour, 10/minute)", rateLimit)
	}

	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		return fmt.Errorf("invalid rate_limit count %q, must be a positive integer", parts[0])
	}

	validUnits := map[string]bool{
		"second": true,
		"minute": true,
		"hour":   true,
		"day":    true,
	}
	if !validUnits[parts[1]] {
		return fmt.Errorf("invalid rate_limit unit %q, must be one of: second, minute, hour, day", parts[1])
	}

	return nil
}

// defaultSocketPath returns the default Unix socket path.
func defaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "conductor", "conductor.sock")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/conductor.sock"
	}

	return filepath.Join(homeDir, ".conductor", "conductor.sock")
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "conductor")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/conductor-data"
	}

	return filepath.Join(homeDir, ".conductor", "data")
}

// CheckpointDir returns the checkpoint directory path for the daemon.
func (c *DaemonConfig) CheckpointDir() string {
	if !c.CheckpointsEnabled {
		return ""
	}
	return filepath.Join(c.DataDir, "checkpoints")
}
