// Package taskstore persists task records to a SQLite database so a
// restarted daemon can recover lease state and history instead of
// starting from an empty registry. Its table has one column per
// internal/task.Task field and rows are scanned straight into
// task.Task; there is no separate Go row type.
package taskstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"devit/internal/task"
)

// Store is a SQLite-backed sink for task records.
type Store struct {
	db *sql.DB
}

// Open creates or opens the task store database at dbPath, creating
// its parent directory if needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create taskstore dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open taskstore: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		requested_model TEXT,
		resolved_model TEXT,
		watch_patterns TEXT,
		state TEXT NOT NULL,
		approval_id TEXT,
		created_at INTEGER NOT NULL,
		lease_expires_at INTEGER,
		result TEXT,
		err TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the row for t.
func (s *Store) Save(t task.Task) error {
	patterns, err := json.Marshal(t.WatchPatterns)
	if err != nil {
		return fmt.Errorf("marshal watch patterns: %w", err)
	}
	var leaseExpires sql.NullInt64
	if !t.LeaseExpiresAt.IsZero() {
		leaseExpires = sql.NullInt64{Int64: t.LeaseExpiresAt.UnixNano(), Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, session_id, worker_id, prompt, requested_model, resolved_model,
			watch_patterns, state, approval_id, created_at, lease_expires_at, result, err, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			approval_id = excluded.approval_id,
			lease_expires_at = excluded.lease_expires_at,
			resolved_model = excluded.resolved_model,
			result = excluded.result,
			err = excluded.err,
			updated_at = excluded.updated_at
	`,
		t.ID, t.SessionID, t.WorkerID, t.Prompt, t.RequestedModel, t.ResolvedModel,
		string(patterns), string(t.State), t.ApprovalID, t.CreatedAt.UnixNano(),
		leaseExpires, t.Result, t.Err, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadAll returns every persisted task, in no particular order, for
// use as the daemon's startup recovery seed.
func (s *Store) LoadAll() ([]task.Task, error) {
	rows, err := s.db.Query(`SELECT id, session_id, worker_id, prompt, requested_model, resolved_model,
		watch_patterns, state, approval_id, created_at, lease_expires_at, result, err FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var t task.Task
		var patterns string
		var state string
		var leaseExpires sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.WorkerID, &t.Prompt, &t.RequestedModel, &t.ResolvedModel,
			&patterns, &state, &t.ApprovalID, &createdAt, &leaseExpires, &t.Result, &t.Err); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.State = task.State(state)
		t.CreatedAt = time.Unix(0, createdAt)
		if leaseExpires.Valid {
			t.LeaseExpiresAt = time.Unix(0, leaseExpires.Int64)
		}
		if patterns != "" {
			_ = json.Unmarshal([]byte(patterns), &t.WatchPatterns)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes terminal-state task rows older than olderThan, keeping
// the table from growing without bound across long daemon uptimes.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE state IN (?, ?, ?, ?) AND updated_at < ?`,
		string(task.StateSucceeded), string(task.StateFailed), string(task.StateCancelled), string(task.StateTimedOut),
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return res.RowsAffected()
}
