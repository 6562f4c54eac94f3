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

// Package logstore persists per-run log metadata rows at flush time.
// No LanceDB driver exists anywhere in this module's dependency pack;
// modernc.org/sqlite — the only embedded-analytical-store dependency
// available — stands in (see DESIGN.md). All runs share one run_logs table,
// indexed by run_id; there is no separate table per run path.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Row is one log entry flushed at the end of a run.
type Row struct {
	RunID     string
	AppID     string
	BoardID   string
	Level     int
	Message   string
	Fields    json.RawMessage
	CreatedAt time.Time
}

// Store is a sqlite-backed stand-in for a LanceDB-style run log table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the log store at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_logs (
			run_id TEXT NOT NULL,
			app_id TEXT NOT NULL,
			board_id TEXT NOT NULL,
			level INTEGER NOT NULL,
			message TEXT NOT NULL,
			fields TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("logstore: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Flush writes the final log metadata for a completed run in a single
// transaction, the sqlite analogue of a LanceDB table write.
func (s *Store) Flush(ctx context.Context, runID, appID, boardID string, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("logstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_logs (run_id, app_id, board_id, level, message, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("logstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, appID, boardID, r.Level, r.Message, string(r.Fields), r.CreatedAt); err != nil {
			return fmt.Errorf("logstore: insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("logstore: commit: %w", err)
	}
	return nil
}

// ListForRun returns all rows flushed for a run, ordered by insertion.
func (s *Store) ListForRun(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, app_id, board_id, level, message, fields, created_at
		FROM run_logs WHERE run_id = ? ORDER BY rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("logstore: query run %s: %w", runID, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var r Row
		var fields sql.NullString
		if err := rows.Scan(&r.RunID, &r.AppID, &r.BoardID, &r.Level, &r.Message, &fields, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("logstore: scan row: %w", err)
		}
		if fields.Valid {
			r.Fields = json.RawMessage(fields.String)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
