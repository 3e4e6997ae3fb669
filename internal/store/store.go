// Package store keeps per-conversation chat history in SQLite, keyed by
// the canonical chat identifier. The default DSN is ":memory:" so history
// lives and dies with the process.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tilde/broker/internal/wire"
)

// MemoryDSN is the in-process database used when no path is configured.
const MemoryDSN = ":memory:"

// Entry is one stored history record for a conversation.
type Entry struct {
	Sender string
	Body   string
}

// Store is the append-only conversation log.
type Store struct {
	db *sql.DB
}

// Open opens the history database and runs migrations. A ":memory:" DSN
// opens a fresh database per pooled connection, so the pool is pinned to a
// single connection there.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = MemoryDSN
	}
	if dsn != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if dsn == MemoryDSN {
		db.SetMaxOpenConns(1)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("history store opened", "dsn", dsn)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_chat ON history(chat_id, id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// ChatID returns the canonical conversation key for a pair of names. The
// broadcast channel maps to its own key; any direct pair maps to the
// lexicographically smaller name, a hyphen, then the larger, so both
// directions share one log.
func ChatID(a, b string) string {
	if a == wire.BroadcastName || b == wire.BroadcastName {
		return wire.BroadcastName
	}
	if a > b {
		a, b = b, a
	}
	return a + "-" + b
}

// Append pushes one entry onto a conversation's log, creating the log on
// first use.
func (s *Store) Append(ctx context.Context, chatID, sender, body string) error {
	const q = `INSERT INTO history (chat_id, sender, body, created_at_unix_ms) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, chatID, sender, body, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	slog.Debug("history appended", "chat_id", chatID, "sender", sender, "body_len", len(body))
	return nil
}

// History returns a conversation's entries in insertion order, oldest
// first. A positive limit caps the result at the first limit entries; an
// unknown chat yields an empty slice, not an error.
func (s *Store) History(ctx context.Context, chatID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT sender, body FROM history WHERE chat_id = ? ORDER BY id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Sender, &e.Body); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	slog.Debug("history loaded", "chat_id", chatID, "count", len(entries))
	return entries, rows.Err()
}

// MessageCount returns the total number of stored entries across all
// conversations.
func (s *Store) MessageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// ChatCount returns the number of distinct conversations.
func (s *Store) ChatCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT chat_id) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}
	return n, nil
}
