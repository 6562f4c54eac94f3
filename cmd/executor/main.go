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

// Command executor is the standalone executor binary: it
// verifies the executor JWT the Run Builder minted, runs one board
// invocation through the InternalRun graph scheduler, and streams the
// result back over SSE.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flow-like/core/internal/config"
	"github.com/flow-like/core/internal/executor"
	"github.com/flow-like/core/internal/log"
	"github.com/flow-like/core/pkg/auth"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/logstore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		listenAddr  = flag.String("listen", ":8081", "TCP address to listen on")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("executor %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.LoadExecutionConfig()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	_, pub, err := auth.LoadKeyPair("", cfg.ExecutionPubHex)
	if err != nil {
		logger.Error("failed to load executor public key", slog.Any("error", err))
		os.Exit(1)
	}
	jwtConfig := auth.Config{
		PublicKey: pub,
		Issuer:    "flow-like-conductor",
		ClockSkew: 30 * time.Second,
	}

	logs, err := logstore.Open(cfg.TracingStoragePath)
	if err != nil {
		logger.Error("failed to open log store", slog.Any("error", err))
		os.Exit(1)
	}

	// The embedding application is expected to substitute a real Repository;
	// the in-memory variant here makes executor a runnable binary out of the
	// box for local development and tests.
	server := executor.NewServer(executor.Config{
		JWTConfig: jwtConfig,
		Repo:      graph.NewMemoryRepository(),
		Catalog:   executor.NewMemoryCatalog(),
		Logs:      logs,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{Addr: *listenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("executor started", "addr", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived signal %v, shutting down...\n", sig)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("executor error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
