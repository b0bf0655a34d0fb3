package hooks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const auditInputCap = 4096

// AuditStore persists every tool call, allowed or denied, to SQLite.
type AuditStore struct {
	db *sql.DB
}

// AuditEntry is one recorded tool call.
type AuditEntry struct {
	ID        string
	SessionID string
	CallID    string
	Tool      string
	Input     string
	Decision  string
	CreatedAt time.Time
}

// NewAuditStore opens (and migrates) the audit database at path. Use
// ":memory:" for tests.
func NewAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	// The store is written from per-session turn goroutines.
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		call_id    TEXT NOT NULL,
		tool       TEXT NOT NULL,
		input      TEXT NOT NULL,
		decision   TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Record writes one audit row.
func (s *AuditStore) Record(ctx context.Context, call *Call) error {
	input := string(call.Input)
	if len(input) > auditInputCap {
		input = input[:auditInputCap]
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, session_id, call_id, tool, input, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), call.SessionID, call.ID, call.Tool, input, call.Decision, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// EntriesForSession returns a session's audit trail, oldest first.
func (s *AuditStore) EntriesForSession(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, call_id, tool, input, decision, created_at
		 FROM tool_calls WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CallID, &e.Tool, &e.Input, &e.Decision, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the store.
func (s *AuditStore) Close() error { return s.db.Close() }

// AuditHook records every tool call before execution. It never denies.
type AuditHook struct {
	Store *AuditStore
}

func (h *AuditHook) Name() string    { return "audit" }
func (h *AuditHook) Pattern() string { return "*" }

func (h *AuditHook) Before(ctx context.Context, call *Call) (*Denial, error) {
	if err := h.Store.Record(ctx, call); err != nil {
		return nil, err
	}
	return nil, nil
}
