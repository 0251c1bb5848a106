package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

const ticketColumns = `id, ref, user_key, username, channel_id, status, answers, summary,
	reopen_count, closed_count, work_time_total_sec, created_at, last_reopen_at,
	resolved_at, resolved_by, close_source`

const spanColumns = `ticket_id, span_no, started_at, ended_at, duration_sec`

// TicketFilter narrows ListTickets results.
type TicketFilter struct {
	Status  protocol.TicketStatus
	UserKey string
	Channel string
	Limit   int
}

// CreateTicket inserts a ticket with its first span, active row and
// attachments as one transaction. The human-facing reference number is
// assigned here and written back to t.Ref.
func (s *SQLiteStore) CreateTicket(t *protocol.Ticket) error {
	answers, _ := json.Marshal(t.Answers)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: create ticket: begin: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT COALESCE(MAX(ref), 0) + 1 FROM tickets`).Scan(&t.Ref); err != nil {
		return fmt.Errorf("store: create ticket: next ref: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, NULL, NULL, '', '')
	`, t.ID, t.Ref, t.UserKey, t.Username, t.ChannelID, string(t.Status),
		string(answers), t.Summary, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create ticket: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO ticket_spans (ticket_id, span_no, started_at) VALUES (?, 1, ?)`,
		t.ID, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create ticket: span: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO ticket_active (ticket_id, user_key, username, last_seen) VALUES (?, ?, ?, ?)`,
		t.ID, t.UserKey, t.Username, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create ticket: active: %w", err)
	}

	for i, a := range t.Attachments {
		_, err = tx.Exec(`INSERT INTO ticket_attachments (ticket_id, pos, kind, path) VALUES (?, ?, ?, ?)`,
			t.ID, i+1, string(a.Kind), a.Path)
		if err != nil {
			return fmt.Errorf("store: create ticket: attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: create ticket: commit: %w", err)
	}
	return nil
}

// CloseTicket performs the whole close transition atomically: status,
// counters, resolution stamps, live-span close with work-time accounting
// and active-row removal. It returns the ticket as closed, or found=false
// if the ticket is missing or already closed (idempotent no-op).
func (s *SQLiteStore) CloseTicket(id, resolvedBy, source string, now time.Time) (*protocol.Ticket, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("store: close ticket: begin: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM tickets WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: close ticket: %w", err)
	}
	if protocol.TicketStatus(status) == protocol.TicketClosed {
		return nil, false, nil
	}

	_, err = tx.Exec(`
		UPDATE tickets SET status = ?, resolved_at = ?, resolved_by = ?, close_source = ?,
			closed_count = closed_count + 1
		WHERE id = ?
	`, string(protocol.TicketClosed), formatTime(now), resolvedBy, source, id)
	if err != nil {
		return nil, false, fmt.Errorf("store: close ticket: %w", err)
	}

	// Close the live span and add its duration to the total.
	var spanNo int
	var startedAt string
	err = tx.QueryRow(`SELECT span_no, started_at FROM ticket_spans WHERE ticket_id = ? AND ended_at IS NULL`, id).
		Scan(&spanNo, &startedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("store: close ticket: live span: %w", err)
	}
	if err == nil {
		duration := int64(now.Sub(parseTime(startedAt)).Seconds())
		if duration < 0 {
			duration = 0
		}
		_, err = tx.Exec(`UPDATE ticket_spans SET ended_at = ?, duration_sec = ? WHERE ticket_id = ? AND span_no = ?`,
			formatTime(now), duration, id, spanNo)
		if err != nil {
			return nil, false, fmt.Errorf("store: close ticket: end span: %w", err)
		}
		_, err = tx.Exec(`UPDATE tickets SET work_time_total_sec = work_time_total_sec + ? WHERE id = ?`, duration, id)
		if err != nil {
			return nil, false, fmt.Errorf("store: close ticket: work time: %w", err)
		}
	}

	if _, err = tx.Exec(`DELETE FROM ticket_active WHERE ticket_id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("store: close ticket: active: %w", err)
	}

	t, err := getTicketTx(tx, id)
	if err != nil {
		return nil, false, fmt.Errorf("store: close ticket: reload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: close ticket: commit: %w", err)
	}
	return t, true, nil
}

// ReopenTicket performs the reopen transition atomically: status, reopen
// counter and stamp, a fresh span numbered one past the highest existing
// one, and the active row re-created. found=false if the ticket is
// missing or already open.
func (s *SQLiteStore) ReopenTicket(id string, now time.Time) (*protocol.Ticket, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: begin: %w", err)
	}
	defer tx.Rollback()

	var status, userKey, username string
	err = tx.QueryRow(`SELECT status, user_key, username FROM tickets WHERE id = ?`, id).
		Scan(&status, &userKey, &username)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: %w", err)
	}
	if protocol.TicketStatus(status) == protocol.TicketOpen {
		return nil, false, nil
	}

	_, err = tx.Exec(`
		UPDATE tickets SET status = ?, reopen_count = reopen_count + 1, last_reopen_at = ?
		WHERE id = ?
	`, string(protocol.TicketOpen), formatTime(now), id)
	if err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: %w", err)
	}

	var nextSpan int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(span_no), 0) + 1 FROM ticket_spans WHERE ticket_id = ?`, id).Scan(&nextSpan); err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: next span: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO ticket_spans (ticket_id, span_no, started_at) VALUES (?, ?, ?)`,
		id, nextSpan, formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: span: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO ticket_active (ticket_id, user_key, username, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(ticket_id) DO UPDATE SET last_seen = excluded.last_seen
	`, id, userKey, username, formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: active: %w", err)
	}

	t, err := getTicketTx(tx, id)
	if err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: reload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: reopen ticket: commit: %w", err)
	}
	return t, true, nil
}

// GetTicket loads a ticket with its spans and attachments.
// found=false if no such ticket exists.
func (s *SQLiteStore) GetTicket(id string) (*protocol.Ticket, bool, error) {
	row := s.db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get ticket: %w", err)
	}

	spans, err := s.ListSpans(id)
	if err != nil {
		return nil, false, err
	}
	t.Spans = spans

	atts, err := s.listAttachments(id)
	if err != nil {
		return nil, false, err
	}
	t.Attachments = atts
	return t, true, nil
}

// ListTickets returns tickets matching the filter, newest first.
func (s *SQLiteStore) ListTickets(filter TicketFilter) ([]*protocol.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.UserKey != "" {
		query += " AND user_key = ?"
		args = append(args, filter.UserKey)
	}
	if filter.Channel != "" {
		query += " AND channel_id = ?"
		args = append(args, filter.Channel)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list tickets: scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// ListSpans returns a ticket's spans in span-number order.
func (s *SQLiteStore) ListSpans(ticketID string) ([]protocol.TicketSpan, error) {
	rows, err := s.db.Query(`SELECT `+spanColumns+` FROM ticket_spans WHERE ticket_id = ? ORDER BY span_no`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("store: list spans: %w", err)
	}
	return collectSpans(rows)
}

func collectSpans(rows *sql.Rows) ([]protocol.TicketSpan, error) {
	defer rows.Close()

	var spans []protocol.TicketSpan
	for rows.Next() {
		var sp protocol.TicketSpan
		var started string
		var ended *string
		if err := rows.Scan(&sp.TicketID, &sp.SpanNo, &started, &ended, &sp.DurationSec); err != nil {
			return nil, fmt.Errorf("store: list spans: scan: %w", err)
		}
		sp.StartedAt = parseTime(started)
		sp.EndedAt = parseTimePtr(ended)
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// LastAnswers returns the answer set of the user's most recent ticket,
// used for the reuse fast path. found=false if the user has no tickets
// or the stored set is empty.
func (s *SQLiteStore) LastAnswers(userKey string) (map[string]string, bool, error) {
	var raw string
	err := s.db.QueryRow(`
		SELECT answers FROM tickets WHERE user_key = ? ORDER BY created_at DESC LIMIT 1
	`, userKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: last answers: %w", err)
	}

	answers := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &answers); err != nil || len(answers) == 0 {
		return nil, false, nil
	}
	return answers, true, nil
}

// TouchActive refreshes the last-seen stamp for an open ticket.
// found=false if the ticket has no active row (e.g. already closed).
func (s *SQLiteStore) TouchActive(ticketID, username string, now time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE ticket_active SET last_seen = ?, username = ? WHERE ticket_id = ?`,
		formatTime(now), username, ticketID)
	if err != nil {
		return false, fmt.Errorf("store: touch active: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FindActiveByUser returns the user's active (open) ticket row, if any.
func (s *SQLiteStore) FindActiveByUser(userKey string) (*protocol.TicketActive, bool, error) {
	row := s.db.QueryRow(`
		SELECT ticket_id, user_key, username, last_seen
		FROM ticket_active WHERE user_key = ? ORDER BY last_seen DESC LIMIT 1
	`, userKey)

	a, err := scanActive(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: find active: %w", err)
	}
	return a, true, nil
}

// ListActiveOlderThan returns active rows whose last_seen is before the
// cutoff; input of the idle sweep.
func (s *SQLiteStore) ListActiveOlderThan(cutoff time.Time) ([]protocol.TicketActive, error) {
	rows, err := s.db.Query(`
		SELECT ticket_id, user_key, username, last_seen
		FROM ticket_active WHERE last_seen < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	defer rows.Close()

	var out []protocol.TicketActive
	for rows.Next() {
		a, err := scanActive(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list active: scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// --- helpers ---

func (s *SQLiteStore) listAttachments(ticketID string) ([]protocol.Attachment, error) {
	rows, err := s.db.Query(`SELECT kind, path FROM ticket_attachments WHERE ticket_id = ? ORDER BY pos`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	defer rows.Close()

	var out []protocol.Attachment
	for rows.Next() {
		var a protocol.Attachment
		var kind string
		if err := rows.Scan(&kind, &a.Path); err != nil {
			return nil, fmt.Errorf("store: list attachments: scan: %w", err)
		}
		a.Kind = protocol.AttachmentKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// getTicketTx reloads a ticket with its spans inside the transaction so
// that close/reopen return the same shape GetTicket does.
func getTicketTx(tx *sql.Tx, id string) (*protocol.Ticket, error) {
	row := tx.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(`SELECT `+spanColumns+` FROM ticket_spans WHERE ticket_id = ? ORDER BY span_no`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list spans: %w", err)
	}
	t.Spans, err = collectSpans(rows)
	return t, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status, answersJSON, createdAt string
	var lastReopenAt, resolvedAt *string

	err := row.Scan(&t.ID, &t.Ref, &t.UserKey, &t.Username, &t.ChannelID, &status,
		&answersJSON, &t.Summary, &t.ReopenCount, &t.ClosedCount, &t.WorkTimeTotalSec,
		&createdAt, &lastReopenAt, &resolvedAt, &t.ResolvedBy, &t.CloseSource)
	if err != nil {
		return nil, err
	}

	t.Status = protocol.TicketStatus(status)
	json.Unmarshal([]byte(answersJSON), &t.Answers)
	t.CreatedAt = parseTime(createdAt)
	t.LastReopenAt = parseTimePtr(lastReopenAt)
	t.ResolvedAt = parseTimePtr(resolvedAt)
	return &t, nil
}

func scanActive(row scannable) (*protocol.TicketActive, error) {
	var a protocol.TicketActive
	var lastSeen string
	if err := row.Scan(&a.TicketID, &a.UserKey, &a.Username, &lastSeen); err != nil {
		return nil, err
	}
	a.LastSeen = parseTime(lastSeen)
	return &a, nil
}
