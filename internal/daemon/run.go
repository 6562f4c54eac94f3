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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flow-like/core/internal/config"
	"github.com/flow-like/core/internal/log"
)

// RunOptions configures apiserver execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// PIDFile, if set, records the running process's PID for the duration of
	// the run.
	PIDFile string

	// ConfigPath, if set, points at an optional YAML deployment config
	// (see internal/config.Load) layering webhook/schedule/endpoint routing,
	// backend, distributed-mode and observability settings on top of the
	// secrets and topology knobs ExecutionConfig reads from the environment.
	// An empty path runs on ExecutionConfig and internal/config.Default()
	// alone.
	ConfigPath string

	Dependencies Dependencies
}

// Run starts the apiserver and blocks until shutdown. This is cmd/apiserver's
// entire main-function body.
func Run(opts RunOptions) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.LoadExecutionConfig()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	deployCfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("failed to load deployment config", slog.Any("error", err))
		return fmt.Errorf("failed to load deployment config: %w", err)
	}
	if err := config.ValidateEventPublicAPIRequirements(deployCfg); err != nil {
		logger.Error("deployment config rejected", slog.Any("error", err))
		return fmt.Errorf("deployment config rejected: %w", err)
	}
	if deployCfg.Daemon.Listen.TCPAddr != "" {
		cfg.ListenAddr = deployCfg.Daemon.Listen.TCPAddr
	}
	if deployCfg.Daemon.MaxConcurrentRuns > 0 {
		cfg.MaxConcurrentRuns = deployCfg.Daemon.MaxConcurrentRuns
	}
	if deployCfg.Daemon.DefaultTimeout > 0 {
		cfg.ExecutorTimeout = deployCfg.Daemon.DefaultTimeout
	}

	if err := writePIDFile(opts.PIDFile); err != nil {
		logger.Warn("failed to write pid file", slog.Any("error", err))
	}
	defer func() {
		if opts.PIDFile != "" {
			_ = os.Remove(opts.PIDFile)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, opts.Dependencies, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	if err != nil {
		logger.Error("failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived signal %v, shutting down...\n", sig)
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}
