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
	"testing"
	"time"

	"github.com/flow-like/core/internal/config"
	"github.com/flow-like/core/pkg/credentials"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/runbuilder"
	"github.com/flow-like/core/pkg/sink"
)

func testConfig() *config.ExecutionConfig {
	cfg := config.DefaultExecutionConfig()
	cfg.SchedulerProvider = config.SchedulerProviderMemory
	cfg.TracingStoragePath = ":memory:"
	cfg.ListenAddr = "127.0.0.1:0"
	return cfg
}

func testDependencies() Dependencies {
	return Dependencies{
		Repository:  graph.NewMemoryRepository(),
		Credentials: credentials.NewMemoryProvider(),
		Sinks:       sink.NewMemoryStore(),
		Payloads:    runbuilder.NewMemoryPayloadStore(),
	}
}

func TestNew_MemorySchedulerProvider(t *testing.T) {
	d, err := New(context.Background(), testConfig(), testDependencies(), Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.schedBackend == nil {
		t.Fatal("expected a scheduler backend to be assembled")
	}
	if d.traceStore != nil {
		if err := d.traceStore.Close(); err != nil {
			t.Fatalf("close trace store: %v", err)
		}
	}
}

func TestNew_UnknownSchedulerProviderFallsBackToMemory(t *testing.T) {
	cfg := testConfig()
	cfg.SchedulerProvider = config.SchedulerProvider("bogus")

	d, err := New(context.Background(), cfg, testDependencies(), Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.traceStore != nil {
		defer d.traceStore.Close()
	}
}

func TestDaemon_StartAndShutdown(t *testing.T) {
	d, err := New(context.Background(), testConfig(), testDependencies(), Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestDaemon_Start_RejectsDoubleStart(t *testing.T) {
	d, err := New(context.Background(), testConfig(), testDependencies(), Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.traceStore.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected error on second Start call")
	}
}

func TestWritePIDFile_EmptyPathIsNoop(t *testing.T) {
	if err := writePIDFile(""); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
}

func TestScheduleCounter(t *testing.T) {
	d, err := New(context.Background(), testConfig(), testDependencies(), Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.traceStore.Close()

	counter := scheduleCounter{backend: d.schedBackend}
	if got := counter.GetScheduleCount(); got != 0 {
		t.Errorf("GetScheduleCount = %d, want 0 for a fresh memory backend", got)
	}
	if got := counter.GetEnabledScheduleCount(); got != 0 {
		t.Errorf("GetEnabledScheduleCount = %d, want 0 for a fresh memory backend", got)
	}
}
