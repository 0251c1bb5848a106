package store

import (
	"database/sql"
	"fmt"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// AppendEvent adds one chat-history record for a ticket.
func (s *SQLiteStore) AppendEvent(e *protocol.ChatEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_events (id, ticket_id, kind, author, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.TicketID, string(e.Kind), e.Author, e.Body, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// ListEvents returns a ticket's chat history oldest first.
func (s *SQLiteStore) ListEvents(ticketID string) ([]protocol.ChatEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, kind, author, body, created_at
		FROM chat_events WHERE ticket_id = ? ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []protocol.ChatEvent
	for rows.Next() {
		var e protocol.ChatEvent
		var kind, created string
		if err := rows.Scan(&e.ID, &e.TicketID, &kind, &e.Author, &e.Body, &created); err != nil {
			return nil, fmt.Errorf("store: list events: scan: %w", err)
		}
		e.Kind = protocol.EventKind(kind)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertChannel inserts or overwrites a channel definition. Called at
// startup to seed configured channels.
func (s *SQLiteStore) UpsertChannel(ch protocol.Channel) error {
	_, err := s.db.Exec(`
		INSERT INTO channels (id, platform, title, settings)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform=excluded.platform, title=excluded.title, settings=excluded.settings
	`, ch.ID, ch.Platform, ch.Title, string(ch.Settings))
	if err != nil {
		return fmt.Errorf("store: upsert channel: %w", err)
	}
	return nil
}

// GetChannel looks up a channel by ID.
func (s *SQLiteStore) GetChannel(id string) (*protocol.Channel, bool, error) {
	var ch protocol.Channel
	var settings string
	err := s.db.QueryRow(`SELECT id, platform, title, settings FROM channels WHERE id = ?`, id).
		Scan(&ch.ID, &ch.Platform, &ch.Title, &settings)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get channel: %w", err)
	}
	ch.Settings = []byte(settings)
	return &ch, true, nil
}

// ListChannels returns all configured channels.
func (s *SQLiteStore) ListChannels() ([]protocol.Channel, error) {
	rows, err := s.db.Query(`SELECT id, platform, title, settings FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list channels: %w", err)
	}
	defer rows.Close()

	var out []protocol.Channel
	for rows.Next() {
		var ch protocol.Channel
		var settings string
		if err := rows.Scan(&ch.ID, &ch.Platform, &ch.Title, &settings); err != nil {
			return nil, fmt.Errorf("store: list channels: scan: %w", err)
		}
		ch.Settings = []byte(settings)
		out = append(out, ch)
	}
	return out, rows.Err()
}
