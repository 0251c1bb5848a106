// Package store is the SQLite persistence layer: tickets, spans, the
// active-ticket index, feedback requests, the blacklist and chat history.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout keeps sub-second precision so span durations survive a
// round trip through the database.
const timeLayout = time.RFC3339Nano

// SQLiteStore is the durable store behind the ticket/conversation core.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS channels (
			id       TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			title    TEXT NOT NULL DEFAULT '',
			settings TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS tickets (
			id                  TEXT PRIMARY KEY,
			ref                 INTEGER NOT NULL,
			user_key            TEXT NOT NULL,
			username            TEXT NOT NULL DEFAULT '',
			channel_id          TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'open',
			answers             TEXT NOT NULL DEFAULT '{}',
			summary             TEXT NOT NULL DEFAULT '',
			reopen_count        INTEGER NOT NULL DEFAULT 0,
			closed_count        INTEGER NOT NULL DEFAULT 0,
			work_time_total_sec INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			last_reopen_at      TEXT,
			resolved_at         TEXT,
			resolved_by         TEXT NOT NULL DEFAULT '',
			close_source        TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS ticket_spans (
			ticket_id    TEXT NOT NULL REFERENCES tickets(id),
			span_no      INTEGER NOT NULL,
			started_at   TEXT NOT NULL,
			ended_at     TEXT,
			duration_sec INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (ticket_id, span_no)
		);

		CREATE TABLE IF NOT EXISTS ticket_active (
			ticket_id TEXT PRIMARY KEY REFERENCES tickets(id),
			user_key  TEXT NOT NULL,
			username  TEXT NOT NULL DEFAULT '',
			last_seen TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ticket_attachments (
			ticket_id TEXT NOT NULL REFERENCES tickets(id),
			pos       INTEGER NOT NULL,
			kind      TEXT NOT NULL,
			path      TEXT NOT NULL,
			PRIMARY KEY (ticket_id, pos)
		);

		CREATE TABLE IF NOT EXISTS feedback_requests (
			id         TEXT PRIMARY KEY,
			user_key   TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			ticket_id  TEXT NOT NULL,
			source     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			sent_at    TEXT
		);

		CREATE TABLE IF NOT EXISTS feedback (
			id         TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			ticket_id  TEXT NOT NULL,
			user_key   TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			rating     INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS blacklist (
			user_key             TEXT PRIMARY KEY,
			blacklisted          INTEGER NOT NULL DEFAULT 0,
			unblock_requested    INTEGER NOT NULL DEFAULT 0,
			unblock_requested_at TEXT
		);

		CREATE TABLE IF NOT EXISTS unblock_requests (
			id               TEXT PRIMARY KEY,
			user_key         TEXT NOT NULL,
			channel_id       TEXT NOT NULL DEFAULT '',
			reason           TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			decided_at       TEXT,
			decided_by       TEXT NOT NULL DEFAULT '',
			decision_comment TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS chat_events (
			id         TEXT PRIMARY KEY,
			ticket_id  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			author     TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_key);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_active_user ON ticket_active(user_key);
		CREATE INDEX IF NOT EXISTS idx_requests_ticket ON feedback_requests(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_requests_user ON feedback_requests(user_key);
		CREATE INDEX IF NOT EXISTS idx_unblock_user ON unblock_requests(user_key);
		CREATE INDEX IF NOT EXISTS idx_events_ticket ON chat_events(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- time helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}
