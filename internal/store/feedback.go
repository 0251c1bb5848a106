package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

const requestColumns = `id, user_key, channel_id, ticket_id, source, created_at, expires_at, sent_at`

// SaveFeedbackRequest inserts or fully overwrites a feedback request row.
func (s *SQLiteStore) SaveFeedbackRequest(r *protocol.FeedbackRequest) error {
	_, err := s.db.Exec(`
		INSERT INTO feedback_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, expires_at=excluded.expires_at, sent_at=excluded.sent_at
	`, r.ID, r.UserKey, r.ChannelID, r.TicketID, r.Source,
		formatTime(r.CreatedAt), formatTime(r.ExpiresAt), formatTimePtr(r.SentAt))
	if err != nil {
		return fmt.Errorf("store: save feedback request: %w", err)
	}
	return nil
}

// LatestRequestForTicket returns the most recently created request row
// for a ticket regardless of expiry.
func (s *SQLiteStore) LatestRequestForTicket(ticketID string) (*protocol.FeedbackRequest, bool, error) {
	row := s.db.QueryRow(`
		SELECT `+requestColumns+` FROM feedback_requests
		WHERE ticket_id = ? ORDER BY created_at DESC LIMIT 1
	`, ticketID)
	return scanRequestRow(row, "latest request for ticket")
}

// LatestActiveRequest returns the most recent unexpired request for the
// user; channelID narrows the lookup to one channel when non-empty.
func (s *SQLiteStore) LatestActiveRequest(userKey, channelID string, now time.Time) (*protocol.FeedbackRequest, bool, error) {
	query := `SELECT ` + requestColumns + ` FROM feedback_requests WHERE user_key = ? AND expires_at > ?`
	args := []any{userKey, formatTime(now)}
	if channelID != "" {
		query += " AND channel_id = ?"
		args = append(args, channelID)
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	row := s.db.QueryRow(query, args...)
	return scanRequestRow(row, "latest active request")
}

// ExpireRequest stamps a request as expired so it can never match again.
func (s *SQLiteStore) ExpireRequest(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE feedback_requests SET expires_at = ? WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("store: expire request: %w", err)
	}
	return nil
}

// MarkRequestSent stamps sent_at on a request.
func (s *SQLiteStore) MarkRequestSent(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE feedback_requests SET sent_at = ? WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("store: mark request sent: %w", err)
	}
	return nil
}

// UnsentRequests returns unexpired requests that have not been delivered
// to the user yet; input of the feedback digest job.
func (s *SQLiteStore) UnsentRequests(now time.Time) ([]*protocol.FeedbackRequest, error) {
	rows, err := s.db.Query(`
		SELECT `+requestColumns+` FROM feedback_requests
		WHERE sent_at IS NULL AND expires_at > ? ORDER BY created_at
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("store: unsent requests: %w", err)
	}
	defer rows.Close()

	var out []*protocol.FeedbackRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("store: unsent requests: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveFeedback inserts a recorded rating.
func (s *SQLiteStore) SaveFeedback(f *protocol.Feedback) error {
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, request_id, ticket_id, user_key, channel_id, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.RequestID, f.TicketID, f.UserKey, f.ChannelID, f.Rating, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save feedback: %w", err)
	}
	return nil
}

// ListFeedback returns ratings recorded at or after since, newest first.
func (s *SQLiteStore) ListFeedback(since time.Time) ([]*protocol.Feedback, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, ticket_id, user_key, channel_id, rating, created_at
		FROM feedback WHERE created_at >= ? ORDER BY created_at DESC
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("store: list feedback: %w", err)
	}
	defer rows.Close()

	var out []*protocol.Feedback
	for rows.Next() {
		var f protocol.Feedback
		var created string
		if err := rows.Scan(&f.ID, &f.RequestID, &f.TicketID, &f.UserKey, &f.ChannelID, &f.Rating, &created); err != nil {
			return nil, fmt.Errorf("store: list feedback: scan: %w", err)
		}
		f.CreatedAt = parseTime(created)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// --- helpers ---

func scanRequest(row scannable) (*protocol.FeedbackRequest, error) {
	var r protocol.FeedbackRequest
	var created, expires string
	var sent *string
	err := row.Scan(&r.ID, &r.UserKey, &r.ChannelID, &r.TicketID, &r.Source, &created, &expires, &sent)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	r.ExpiresAt = parseTime(expires)
	r.SentAt = parseTimePtr(sent)
	return &r, nil
}

func scanRequestRow(row *sql.Row, op string) (*protocol.FeedbackRequest, bool, error) {
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: %s: %w", op, err)
	}
	return r, true, nil
}
