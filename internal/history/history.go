// Package history persists reconciliation run outcomes in an embedded
// SQLite database.
//
// The database is opened in WAL mode so the dashboard can read recent
// runs while the daemon records a new one. Per-record actions are stored
// as a JSON column alongside the run counters.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ledgersync/ledgersync/internal/engine"
)

// Run is one recorded reconciliation run.
type Run struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Success   bool            `json:"success"`
	DryRun    bool            `json:"dry_run"`
	Created   int             `json:"created"`
	Updated   int             `json:"updated"`
	Deleted   int             `json:"deleted"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Actions   []engine.Action `json:"actions,omitempty"`
}

// Stats summarizes the whole run history.
type Stats struct {
	TotalRuns    int           `json:"total_runs"`
	Successful   int           `json:"successful"`
	Failed       int           `json:"failed"`
	TotalCreated int           `json:"total_created"`
	TotalUpdated int           `json:"total_updated"`
	TotalDeleted int           `json:"total_deleted"`
	AvgDuration  time.Duration `json:"avg_duration"`
}

// Store records and queries run history.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the history database at path.
//
// The caller must Close the store when done.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		success INTEGER NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		actions TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint history WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// RecordRun stores a run outcome and returns its row ID.
func (s *Store) RecordRun(ctx context.Context, outcome *engine.RunOutcome) (int64, error) {
	actions, err := json.Marshal(outcome.Actions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal actions: %w", err)
	}

	result, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (run_id, timestamp, success, dry_run, created, updated,
			deleted, skipped, failed, error, duration_ms, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.RunID,
		outcome.StartedAt.UTC().Format(time.RFC3339),
		outcome.Success,
		outcome.DryRun,
		outcome.Created,
		outcome.Updated,
		outcome.Deleted,
		outcome.Skipped,
		outcome.Failed,
		outcome.Error,
		outcome.Duration.Milliseconds(),
		string(actions),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// LastRuns returns the most recent runs, newest first.
func (s *Store) LastRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, run_id, timestamp, success, dry_run, created, updated,
			deleted, skipped, failed, error, duration_ms, actions
		FROM runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			timestamp  string
			durationMS int64
			actions    string
		)
		if err := rows.Scan(&run.ID, &run.RunID, &timestamp, &run.Success, &run.DryRun,
			&run.Created, &run.Updated, &run.Deleted, &run.Skipped, &run.Failed,
			&run.Error, &durationMS, &actions); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
			run.Timestamp = t
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if actions != "" && actions != "[]" {
			if err := json.Unmarshal([]byte(actions), &run.Actions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Stats aggregates the full history.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(created), 0),
			COALESCE(SUM(updated), 0),
			COALESCE(SUM(deleted), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM runs`)

	var (
		stats Stats
		avgMS float64
	)
	if err := row.Scan(&stats.TotalRuns, &stats.Successful, &stats.Failed,
		&stats.TotalCreated, &stats.TotalUpdated, &stats.TotalDeleted, &avgMS); err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	stats.AvgDuration = time.Duration(avgMS) * time.Millisecond
	return &stats, nil
}

// Prune deletes runs older than the retention period and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).UTC().Format(time.RFC3339)
	result, err := s.conn.ExecContext(ctx, "DELETE FROM runs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned runs: %w", err)
	}
	return removed, nil
}
