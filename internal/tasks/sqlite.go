package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "scout-v1-task-log"
)

// SQLiteStore persists task records in a SQLite database. It is the durable
// alternative to MemoryStore; a single connection serialises writers so the
// per-task event sequence is assigned without gaps.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			answer TEXT,
			sources TEXT,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS task_events (
			task_id TEXT NOT NULL REFERENCES tasks(id),
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (task_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	var checksum string
	err = tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?`, schemaVersion).Scan(&checksum)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)`, schemaVersion, schemaChecksum); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case checksum != schemaChecksum:
		return fmt.Errorf("schema checksum mismatch for version %d: have %q want %q", schemaVersion, checksum, schemaChecksum)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Create(ctx context.Context, id string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (id, state) VALUES (?, ?)`, id, string(StateRunning))
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrExists
		}
		return err
	})
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, id string, ev Event) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_events (task_id, seq, type, message)
			SELECT id, (SELECT COALESCE(MAX(seq) + 1, 0) FROM task_events WHERE task_id = ?), ?, ?
			FROM tasks WHERE id = ?`,
			id, string(ev.Type), ev.Message, id)
		return err
	})
}

func (s *SQLiteStore) SetResult(ctx context.Context, id string, res Result) error {
	sources := res.Sources
	if sources == nil {
		sources = []Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	return s.finish(ctx, id, `UPDATE tasks SET state = ?, answer = ?, sources = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = ?`, string(StateCompleted), res.Answer, string(raw), id, string(StateRunning))
}

func (s *SQLiteStore) SetFailure(ctx context.Context, id string, msg string) error {
	return s.finish(ctx, id, `UPDATE tasks SET state = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = ?`, string(StateFailed), msg, id, string(StateRunning))
}

// finish runs a guarded terminal update and maps a no-op to the right error.
func (s *SQLiteStore) finish(ctx context.Context, id, query string, args ...any) error {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownTask
	}
	return ErrTerminal
}

func (s *SQLiteStore) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, message FROM task_events WHERE task_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var typ, msg string
		if err := rows.Scan(&typ, &msg); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		out = append(out, Event{Type: EventType(typ), Message: msg})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Outcome(ctx context.Context, id string) (Outcome, error) {
	var (
		state   string
		answer  sql.NullString
		sources sql.NullString
		errMsg  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, answer, sources, error FROM tasks WHERE id = ?`, id).
		Scan(&state, &answer, &sources, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{State: StateRunning}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get task outcome: %w", err)
	}

	switch State(state) {
	case StateCompleted:
		res := Result{Answer: answer.String, Sources: []Source{}}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &res.Sources); err != nil {
				return Outcome{}, fmt.Errorf("decode sources: %w", err)
			}
		}
		return Outcome{State: StateCompleted, Result: &res}, nil
	case StateFailed:
		return Outcome{State: StateFailed, Error: errMsg.String}, nil
	default:
		return Outcome{State: StateRunning}, nil
	}
}

func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check task: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM tasks GROUP BY state`)
	if err != nil {
		return Counts{}, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, fmt.Errorf("scan task count: %w", err)
		}
		c.Total += n
		switch State(state) {
		case StateCompleted:
			c.Completed += n
		case StateFailed:
			c.Failed += n
		default:
			c.Running += n
		}
	}
	return c, rows.Err()
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
