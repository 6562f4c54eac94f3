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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/flow-like/core/internal/daemon"
	"github.com/flow-like/core/pkg/credentials"
	"github.com/flow-like/core/pkg/graph"
	"github.com/flow-like/core/pkg/runbuilder"
	"github.com/flow-like/core/pkg/sink"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		pidFile     = flag.String("pid-file", "", "Path to write the running process's PID")
		configPath  = flag.String("config", "", "Path to an optional YAML deployment config")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("apiserver %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// The embedding application is expected to substitute its own Repository,
	// credentials.Provider, sink.Store and PayloadStore; the
	// in-memory variants here make apiserver a runnable binary out of the box
	// for local development and tests.
	deps := daemon.Dependencies{
		Repository:  graph.NewMemoryRepository(),
		Credentials: credentials.NewMemoryProvider(),
		Sinks:       sink.NewMemoryStore(),
		Payloads:    runbuilder.NewMemoryPayloadStore(),
	}

	if err := daemon.Run(daemon.RunOptions{
		Version:      version,
		Commit:       commit,
		BuildDate:    buildDate,
		PIDFile:      *pidFile,
		ConfigPath:   *configPath,
		Dependencies: deps,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
