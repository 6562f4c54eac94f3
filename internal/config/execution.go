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
	"fmt"
	"os"
	"strconv"
	"time"
)

// SchedulerProvider selects the Scheduler Backend.
type SchedulerProvider string

const (
	SchedulerProviderMemory    SchedulerProvider = "memory"
	SchedulerProviderAWS       SchedulerProvider = "aws"
	SchedulerProviderKubernetes SchedulerProvider = "kubernetes"
)

// ExecutionConfig holds every environment variable names for the
// control plane's two binaries (cmd/apiserver, cmd/executor). Unlike
// Config/DaemonConfig, it has no YAML form: these are deployment secrets
// and topology knobs, read straight from the environment the same way
// loadFromEnv reads its CONDUCTOR_* overrides.
type ExecutionConfig struct {
	// ExecutionKeyHex / ExecutionPubHex are the EXECUTION_KEY / EXECUTION_PUB
	// hex-encoded Ed25519 pair the Run Builder signs executor/user JWTs with.
	// cmd/executor only needs ExecutionPubHex to verify.
	ExecutionKeyHex string
	ExecutionPubHex string

	// SinkTokenEncryptionKey seeds pkg/sink's AES-256-GCM key derivation.
	SinkTokenEncryptionKey string

	// APIBaseURL is the externally-reachable base URL the Run Builder embeds
	// in executor callback URLs.
	APIBaseURL string

	// SchedulerProvider selects which pkg/scheduler backend serves cron sinks.
	SchedulerProvider SchedulerProvider

	// EventBridgeTargetARN / EventBridgeRoleARN configure pkg/scheduler/awsbackend.
	EventBridgeTargetARN string
	EventBridgeRoleARN   string

	// K8sNamespace / SinkTriggerImage configure pkg/scheduler/k8sbackend.
	K8sNamespace     string
	SinkTriggerImage string

	// DatabaseURL is the relational store backing the Repository/sink.Store
	// collaborators an embedding application supplies; the control plane
	// itself never opens it.
	DatabaseURL string

	// ExecutorEndpoint is the BackendHTTP/BackendLambdaStream dispatch target.
	ExecutorEndpoint string
	// IsolatedExecutorEndpoint is the BackendKubernetesJob dispatch target;
	// defaults to ExecutorEndpoint when unset, since provisioning a dedicated
	// isolated pool is an infra decision outside this module's scope.
	IsolatedExecutorEndpoint string
	ExecutorTimeout          time.Duration

	// MaxConcurrentRuns bounds runstore.Registry's parallel run slots.
	MaxConcurrentRuns int

	// TracingStoragePath is internal/tracing/storage.SQLiteStore's DB file.
	TracingStoragePath string

	// ListenAddr is the API server's TCP listen address.
	ListenAddr string

	// CronTriggerRateLimit bounds how often the memory scheduler's tick loop
	// may fire a single event, in daemonauth.ParseRateLimit's "count/period"
	// form (e.g. "30/minute"). Empty disables the bound.
	CronTriggerRateLimit string
}

// DefaultExecutionConfig returns the zero-value-safe defaults applied before
// environment overrides.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		SchedulerProvider:    SchedulerProviderMemory,
		ExecutorEndpoint:     "http://127.0.0.1:8081/execute",
		ExecutorTimeout:      15 * time.Minute,
		MaxConcurrentRuns:    64,
		TracingStoragePath:   "data/traces.db",
		ListenAddr:           ":8080",
		CronTriggerRateLimit: "30/minute",
	}
}

// LoadExecutionConfig builds an ExecutionConfig from defaults plus the
// environment variables names.
func LoadExecutionConfig() (*ExecutionConfig, error) {
	cfg := DefaultExecutionConfig()

	cfg.ExecutionKeyHex = os.Getenv("EXECUTION_KEY")
	cfg.ExecutionPubHex = os.Getenv("EXECUTION_PUB")
	cfg.SinkTokenEncryptionKey = os.Getenv("SINK_TOKEN_ENCRYPTION_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.EventBridgeTargetARN = os.Getenv("EVENTBRIDGE_TARGET_ARN")
	cfg.EventBridgeRoleARN = os.Getenv("EVENTBRIDGE_ROLE_ARN")
	cfg.K8sNamespace = os.Getenv("K8S_NAMESPACE")
	cfg.SinkTriggerImage = os.Getenv("SINK_TRIGGER_IMAGE")

	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("SINK_SCHEDULER_PROVIDER"); v != "" {
		cfg.SchedulerProvider = SchedulerProvider(v)
	}
	if v := os.Getenv("EXECUTOR_ENDPOINT"); v != "" {
		cfg.ExecutorEndpoint = v
	}
	if v := os.Getenv("ISOLATED_EXECUTOR_ENDPOINT"); v != "" {
		cfg.IsolatedExecutorEndpoint = v
	}
	if cfg.IsolatedExecutorEndpoint == "" {
		cfg.IsolatedExecutorEndpoint = cfg.ExecutorEndpoint
	}
	if v := os.Getenv("EXECUTOR_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid EXECUTOR_TIMEOUT_SECONDS: %w", err)
		}
		cfg.ExecutorTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MAX_CONCURRENT_RUNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid MAX_CONCURRENT_RUNS: %w", err)
		}
		cfg.MaxConcurrentRuns = n
	}
	if v := os.Getenv("TRACING_STORAGE_PATH"); v != "" {
		cfg.TracingStoragePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CRON_TRIGGER_RATE_LIMIT"); v != "" {
		cfg.CronTriggerRateLimit = v
	}

	switch cfg.SchedulerProvider {
	case SchedulerProviderMemory, SchedulerProviderAWS, SchedulerProviderKubernetes:
	default:
		return nil, fmt.Errorf("config: SINK_SCHEDULER_PROVIDER must be one of memory|aws|kubernetes, got %q", cfg.SchedulerProvider)
	}

	return cfg, nil
}
