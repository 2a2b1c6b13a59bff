package execlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/dispatchd/internal/secrets"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is the SQLite-backed execution log.
type Store struct {
	db       *sql.DB
	scrubber secrets.Scrubber
}

var _ Log = (*Store)(nil)

// NewStore opens (or creates) the log database at path. The parent
// directory is created if needed. Every persisted text passes through
// scrubber first; a nil scrubber disables scrubbing.
func NewStore(path string, scrubber secrets.Scrubber) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("execlog: database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("execlog: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("execlog: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execlog: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, scrubber: scrubber}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("execlog: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_turns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id);
		CREATE INDEX IF NOT EXISTS idx_turns_created ON conversation_turns(created_at DESC);

		CREATE TABLE IF NOT EXISTS execution_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			task_type  TEXT NOT NULL,
			input      TEXT NOT NULL,
			output     TEXT NOT NULL,
			status     TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_executions_session ON execution_records(session_id);
		CREATE INDEX IF NOT EXISTS idx_executions_created ON execution_records(created_at DESC);

		CREATE TABLE IF NOT EXISTS operation_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			service    TEXT NOT NULL,
			operation  TEXT NOT NULL,
			request    TEXT NOT NULL DEFAULT '',
			response   TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_operations_session ON operation_records(session_id);
		CREATE INDEX IF NOT EXISTS idx_operations_created ON operation_records(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) scrub(text string) string {
	if s.scrubber == nil {
		return text
	}
	return s.scrubber.Scrub(text)
}

// AppendTurn records one side of a conversation exchange.
func (s *Store) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" {
		return fmt.Errorf("execlog: session id required")
	}
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("execlog: invalid role %q", role)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, role, s.scrub(content),
	)
	if err != nil {
		return fmt.Errorf("execlog: append turn: %w", err)
	}
	return nil
}

// AppendExecution records the outcome of a dispatched request.
func (s *Store) AppendExecution(ctx context.Context, rec ExecutionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("execlog: session id required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_records (session_id, request_id, task_type, input, output, status, error, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RequestID, rec.TaskType,
		s.scrub(rec.Input), s.scrub(rec.Output),
		rec.Status, s.scrub(rec.Error), rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("execlog: append execution: %w", err)
	}
	return nil
}

// AppendOperation records a single capability invocation.
func (s *Store) AppendOperation(ctx context.Context, rec OperationRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("execlog: session id required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operation_records (session_id, request_id, service, operation, request, response, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RequestID, rec.Service, rec.Operation,
		s.scrub(rec.Request), s.scrub(rec.Response), rec.Status,
	)
	if err != nil {
		return fmt.Errorf("execlog: append operation: %w", err)
	}
	return nil
}

// History returns up to limit turns for a session, most recent last.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM conversation_turns WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("execlog: query history: %w", err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("execlog: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execlog: iterate history: %w", err)
	}

	// Query ran newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Executions returns up to limit execution records for a session, most
// recent first.
func (s *Store) Executions(ctx context.Context, sessionID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, request_id, task_type, input, output, status, error, elapsed_ms, created_at
		 FROM execution_records WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("execlog: query executions: %w", err)
	}
	defer rows.Close()

	var recs []ExecutionRecord
	for rows.Next() {
		var (
			rec       ExecutionRecord
			elapsedMs int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.RequestID, &rec.TaskType,
			&rec.Input, &rec.Output, &rec.Status, &rec.Error,
			&elapsedMs, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("execlog: scan execution: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execlog: iterate executions: %w", err)
	}
	return recs, nil
}

// Operations returns up to limit operation records for a session, most
// recent first.
func (s *Store) Operations(ctx context.Context, sessionID string, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, request_id, service, operation, request, response, status, created_at
		 FROM operation_records WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("execlog: query operations: %w", err)
	}
	defer rows.Close()

	var recs []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.RequestID, &rec.Service,
			&rec.Operation, &rec.Request, &rec.Response, &rec.Status, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("execlog: scan operation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execlog: iterate operations: %w", err)
	}
	return recs, nil
}

// Stats summarizes the whole log.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:   make(map[string]int64),
		ByTaskType: make(map[string]int64),
	}

	singles := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM conversation_turns", &stats.TotalTurns},
		{"SELECT COUNT(*) FROM execution_records", &stats.TotalExecutions},
		{"SELECT COUNT(*) FROM operation_records", &stats.TotalOperations},
		{"SELECT COUNT(DISTINCT session_id) FROM execution_records", &stats.DistinctSessions},
	}
	for _, q := range singles {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("execlog: stats: %w", err)
		}
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(AVG(elapsed_ms), 0) FROM execution_records",
	).Scan(&stats.AvgElapsedMs); err != nil {
		return nil, fmt.Errorf("execlog: stats: %w", err)
	}

	groups := []struct {
		query string
		dest  map[string]int64
	}{
		{"SELECT status, COUNT(*) FROM execution_records GROUP BY status", stats.ByStatus},
		{"SELECT task_type, COUNT(*) FROM execution_records GROUP BY task_type", stats.ByTaskType},
	}
	for _, g := range groups {
		rows, err := s.db.QueryContext(ctx, g.query)
		if err != nil {
			return nil, fmt.Errorf("execlog: stats: %w", err)
		}
		for rows.Next() {
			var (
				key   string
				count int64
			)
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("execlog: stats: %w", err)
			}
			g.dest[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("execlog: stats: %w", err)
		}
		rows.Close()
	}

	return stats, nil
}
