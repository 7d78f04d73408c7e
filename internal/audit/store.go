// Package audit keeps an append-only SQLite journal of every transcript
// the dispatcher handled: what was offered to the reasoning service,
// how its answer was classified and what came back.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one handled transcript.
type Entry struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Transcript   string
	Kind         string // function_call, plan, text, empty, error
	ToolsOffered []string
	Result       string
	Error        string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// Store is an append-only journal. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS dispatches (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		transcript    TEXT NOT NULL,
		kind          TEXT NOT NULL,
		tools_offered TEXT NOT NULL DEFAULT '[]',
		result        TEXT,
		error         TEXT,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		elapsed_ms    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_timestamp ON dispatches(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dispatches_request ON dispatches(request_id);
	`)
	return err
}

// Record appends e. Empty ID and zero Timestamp are filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		e.ID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	tools := e.ToolsOffered
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispatches
			(id, timestamp, request_id, transcript, kind, tools_offered, result, error,
			 input_tokens, output_tokens, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.RequestID,
		e.Transcript,
		e.Kind,
		string(toolsJSON),
		e.Result,
		e.Error,
		e.InputTokens,
		e.OutputTokens,
		e.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, transcript, kind, tools_offered,
		        COALESCE(result, ''), COALESCE(error, ''), input_tokens, output_tokens, elapsed_ms
		 FROM dispatches
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			ts, tools string
			elapsedMs int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.RequestID, &e.Transcript, &e.Kind, &tools,
			&e.Result, &e.Error, &e.InputTokens, &e.OutputTokens, &elapsedMs); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		_ = json.Unmarshal([]byte(tools), &e.ToolsOffered)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind returns the number of entries per classification kind.
func (s *Store) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM dispatches GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
