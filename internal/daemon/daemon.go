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

// Package daemon wires the control plane's collaborators — Run Builder,
// Dispatcher, Streaming Proxy, Sink Registry, Scheduler Backend — into one
// long-running apiserver process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsscheduler "github.com/aws/aws-sdk-go-v2/service/scheduler"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/flow-like/core/internal/config"
	"github.com/flow-like/core/internal/daemon/api"
	daemonauth "github.com/flow-like/core/internal/daemon/auth"
	"github.com/flow-like/core/internal/daemon/webhook"
	internallog "github.com/flow-like/core/internal/log"
	"github.com/flow-like/core/internal/tracing"
	"github.com/flow-like/core/internal/tracing/storage"
	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/credentials"
	"github.com/flow-like/core/pkg/dispatch"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/runbuilder"
	"github.com/flow-like/core/pkg/runstore"
	"github.com/flow-like/core/pkg/scheduler"
	"github.com/flow-like/core/pkg/scheduler/awsbackend"
	"github.com/flow-like/core/pkg/scheduler/k8sbackend"
	"github.com/flow-like/core/pkg/scheduler/memory"
	"github.com/flow-like/core/pkg/sink"
)

// Options carries build metadata surfaced on GET /v1/version.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Dependencies are the external collaborators left out of scope for this
// module: relational persistence, per-cloud credential issuance, and the
// node catalog. The control plane only ever depends on their narrow
// interfaces; an embedding application supplies concrete implementations.
type Dependencies struct {
	Repository  graph.Repository
	Credentials credentials.Provider
	Sinks       sink.Store
	Payloads    runbuilder.PayloadStore

	// LocalExecutor, if set, lets BackendLocalInProcess dispatch run boards
	// in this process instead of over HTTP to a separate cmd/executor. Nil
	// leaves BackendLocalInProcess unregistered, so a dispatch to it gets a
	// dispatcher-not-registered error. local=true invocations never dispatch
	// and are not affected.
	LocalExecutor dispatch.Executor
}

// Daemon is the assembled control plane: one HTTP listener serving the
// invoke/runs/schedules/traces/events surface.
type Daemon struct {
	cfg  *config.ExecutionConfig
	opts Options

	logger *slog.Logger

	runs         *runstore.Registry
	builder      *runbuilder.Builder
	sinks        *sink.Registry
	schedBackend scheduler.Backend
	traceStore   *storage.SQLiteStore
	otelProvider *tracing.OTelProvider

	router *api.Router
	authMw *daemonauth.Middleware

	server *http.Server

	mu      sync.Mutex
	started bool
}

// scheduleCounter adapts scheduler.Backend to api.ScheduleStatusProvider.
type scheduleCounter struct {
	backend scheduler.Backend
}

func (c scheduleCounter) GetScheduleCount() int {
	infos, err := c.backend.ListSchedules(context.Background(), 1000, 0)
	if err != nil {
		return 0
	}
	return len(infos)
}

func (c scheduleCounter) GetEnabledScheduleCount() int {
	infos, err := c.backend.ListSchedules(context.Background(), 1000, 0)
	if err != nil {
		return 0
	}
	n := 0
	for _, info := range infos {
		if info.Active {
			n++
		}
	}
	return n
}

// cronRateLimiter bounds how often the memory scheduler's tick loop may fire
// a single event's invoke, lazily registering each event's named bucket on
// first trigger so one misconfigured cron expression can't flood the Run
// Builder. Wraps daemonauth.NamedRateLimiter, whose Allow reports unlimited
// for any name it hasn't seen AddLimit for yet.
type cronRateLimiter struct {
	nrl   *daemonauth.NamedRateLimiter
	limit string

	mu   sync.Mutex
	seen map[string]bool
}

func newCronRateLimiter(limit string) *cronRateLimiter {
	return &cronRateLimiter{nrl: daemonauth.NewNamedRateLimiter(), limit: limit, seen: make(map[string]bool)}
}

func (c *cronRateLimiter) allow(eventID string) bool {
	if c == nil || c.limit == "" {
		return true
	}
	c.mu.Lock()
	if !c.seen[eventID] {
		if err := c.nrl.AddLimit(eventID, c.limit); err == nil {
			c.seen[eventID] = true
		}
	}
	c.mu.Unlock()
	return c.nrl.Allow(eventID)
}

// Forget drops eventID's bucket, called when its sink is deleted so the
// limiter's map doesn't grow unbounded over the life of the daemon.
// Satisfies api.ScheduleLimiter.
func (c *cronRateLimiter) Forget(eventID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.seen, eventID)
	c.mu.Unlock()
	c.nrl.RemoveLimit(eventID)
}

// sinkTrigger closes over the sink store to resolve an event's owning app
// before handing the invocation to the Run Builder; the memory scheduler
// backend's tick loop only carries an event ID.
func sinkTrigger(builder *runbuilder.Builder, sinks sink.Store, limiter *cronRateLimiter, logger *slog.Logger) memory.TriggerFunc {
	return func(ctx context.Context, eventID string) {
		if !limiter.allow(eventID) {
			remaining, max, resetAt, _ := limiter.nrl.GetStatus(eventID)
			logger.Warn("scheduler: cron trigger rate-limited", "event_id", eventID, "remaining", remaining, "limit", max, "reset_at", resetAt)
			return
		}

		s, err := sinks.GetSink(ctx, eventID)
		if err != nil || s == nil {
			logger.Error("scheduler: sink lookup failed for triggered event", "event_id", eventID, "error", err)
			return
		}
		if _, err := builder.Invoke(ctx, runbuilder.InvokeParams{AppID: s.AppID, EventID: eventID}); err != nil {
			logger.Error("scheduler: cron-triggered invoke failed", "event_id", eventID, "app_id", s.AppID, "error", err)
		}
	}
}

// New assembles a Daemon from configuration and externally-supplied
// collaborators. No network I/O beyond resolving ambient cloud credentials
// (for the aws/kubernetes scheduler providers) happens until Start is
// called.
func New(ctx context.Context, cfg *config.ExecutionConfig, deps Dependencies, opts Options) (*Daemon, error) {
	logger := internallog.New(internallog.FromEnv())

	priv, pub, err := auth.LoadKeyPair(cfg.ExecutionKeyHex, cfg.ExecutionPubHex)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	jwtConfig := auth.Config{
		PrivateKey: priv,
		PublicKey:  pub,
		Issuer:     "flow-like-conductor",
		ClockSkew:  30 * time.Second,
	}

	credCache := credentials.NewCache(deps.Credentials, time.Hour)
	runs := runstore.New(cfg.MaxConcurrentRuns)

	httpDispatcher := dispatch.NewHTTPDispatcher(cfg.ExecutorEndpoint, cfg.ExecutorTimeout)
	isolatedDispatcher := dispatch.NewHTTPDispatcher(cfg.IsolatedExecutorEndpoint, cfg.ExecutorTimeout)
	byBackend := map[dispatch.Backend]dispatch.Dispatcher{
		dispatch.BackendHTTP:          httpDispatcher,
		dispatch.BackendLambdaStream:  httpDispatcher,
		dispatch.BackendKubernetesJob: isolatedDispatcher,
	}
	if deps.LocalExecutor != nil {
		byBackend[dispatch.BackendLocalInProcess] = dispatch.NewLocalDispatcher(deps.LocalExecutor)
	}
	router := dispatch.NewRouter(byBackend)

	builder := runbuilder.New(runbuilder.Config{
		Repository:     deps.Repository,
		Credentials:    credCache,
		JWTConfig:      jwtConfig,
		Payloads:       deps.Payloads,
		Runs:           runs,
		Router:         router,
		CallbackBase:   cfg.APIBaseURL,
		DefaultBackend: dispatch.BackendHTTP,
	})

	cronLimiter := newCronRateLimiter(cfg.CronTriggerRateLimit)

	schedBackend, err := newSchedulerBackend(ctx, cfg, builder, deps.Sinks, cronLimiter, logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: build scheduler backend: %w", err)
	}

	encKey, err := sink.LoadEncryptionKey(cfg.SinkTokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	sinkRegistry := sink.New(deps.Sinks, schedBackend, encKey)

	traceStore, err := storage.New(storage.Config{Path: cfg.TracingStoragePath, MaxOpenConns: 1})
	if err != nil {
		return nil, fmt.Errorf("daemon: open trace store: %w", err)
	}

	otelProvider, err := tracing.NewOTelProvider("flow-like-apiserver", opts.Version)
	if err != nil {
		logger.Warn("daemon: otel provider init failed, continuing without metrics export", "error", err)
		otelProvider = nil
	}

	apiRouter := api.NewRouter(api.RouterConfig{Version: opts.Version, Commit: opts.Commit, BuildDate: opts.BuildDate})
	api.NewRunsHandler(builder, runs, logger).RegisterRoutes(apiRouter.Mux())
	api.NewSchedulesHandler(schedBackend, sinkRegistry, cronLimiter).RegisterRoutes(apiRouter.Mux())
	api.NewTracesHandler(traceStore).RegisterRoutes(apiRouter.Mux())
	api.NewEventsHandler(traceStore).RegisterRoutes(apiRouter.Mux())
	webhook.NewRouter(deps.Sinks, builder, logger).RegisterRoutes(apiRouter.Mux())
	apiRouter.SetScheduleProvider(scheduleCounter{backend: schedBackend})
	if otelProvider != nil {
		apiRouter.SetMetricsHandler(NewCombinedMetricsHandler(otelProvider.MetricsHandler(), nil))
	}

	authMw := daemonauth.NewMiddleware(daemonauth.Config{
		Enabled: true,
		JWT:     &jwtConfig,
		Logger:  logger,
	})

	d := &Daemon{
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		runs:         runs,
		builder:      builder,
		sinks:        sinkRegistry,
		schedBackend: schedBackend,
		traceStore:   traceStore,
		otelProvider: otelProvider,
		router:       apiRouter,
		authMw:       authMw,
	}
	return d, nil
}

// newSchedulerBackend selects the Scheduler Backend named by
// cfg.SchedulerProvider. The memory variant needs the Run Builder itself
// since its tick loop triggers invocations in-process; aws/kubernetes
// schedules call back into this apiserver over HTTP instead, so they only
// need their provider-specific client.
func newSchedulerBackend(ctx context.Context, cfg *config.ExecutionConfig, builder *runbuilder.Builder, sinks sink.Store, limiter *cronRateLimiter, logger *slog.Logger) (scheduler.Backend, error) {
	switch cfg.SchedulerProvider {
	case config.SchedulerProviderAWS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awsscheduler.NewFromConfig(awsCfg)
		return awsbackend.New(client, awsbackend.Config{
			TargetArn: cfg.EventBridgeTargetARN,
			RoleArn:   cfg.EventBridgeRoleARN,
		}), nil
	case config.SchedulerProviderKubernetes:
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("load in-cluster config: %w", err)
		}
		client, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes client: %w", err)
		}
		return k8sbackend.New(client, k8sbackend.Config{
			Namespace:  cfg.K8sNamespace,
			Image:      cfg.SinkTriggerImage,
			APIBaseURL: cfg.APIBaseURL,
		}), nil
	default:
		return memory.New(sinkTrigger(builder, sinks, limiter, logger), logger), nil
	}
}

// Start begins serving HTTP on cfg.ListenAddr and, for the memory scheduler
// provider, runs its tick loop. It blocks until ctx is cancelled or the
// server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already started")
	}
	d.started = true
	d.mu.Unlock()

	handler := d.authMw.Wrap(d.router)
	d.server = &http.Server{
		Addr:    d.cfg.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if mb, ok := d.schedBackend.(*memory.Backend); ok {
		go mb.Run(ctx)
	}

	d.logger.Info("daemon started", "addr", d.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains active runs, stops background loops, and closes the trace
// store. Runs exceeding the drain timeout are left to terminate on their own
// TTL sweep rather than blocking shutdown indefinitely.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.runs.StartDraining()
	if err := d.runs.WaitForDrain(ctx, 30*time.Second); err != nil {
		d.logger.Warn("daemon: shutdown proceeding with active runs", "error", err)
	}

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("daemon: http shutdown: %w", err)
		}
	}

	if d.otelProvider != nil {
		if err := d.otelProvider.Shutdown(ctx); err != nil {
			d.logger.Warn("daemon: otel shutdown failed", "error", err)
		}
	}

	if d.traceStore != nil {
		if err := d.traceStore.Close(); err != nil {
			return fmt.Errorf("daemon: close trace store: %w", err)
		}
	}

	return nil
}

// writePIDFile records the running process's PID at path, mirroring the
// teacher's single-instance-lock convention.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
