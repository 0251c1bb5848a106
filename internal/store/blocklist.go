package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

const unblockColumns = `id, user_key, channel_id, reason, status, created_at, decided_at, decided_by, decision_comment`

// GetBlacklist returns the access-control row for a user.
// found=false means the user has never been blacklisted.
func (s *SQLiteStore) GetBlacklist(userKey string) (*protocol.BlacklistEntry, bool, error) {
	var e protocol.BlacklistEntry
	var requestedAt *string
	err := s.db.QueryRow(`
		SELECT user_key, blacklisted, unblock_requested, unblock_requested_at
		FROM blacklist WHERE user_key = ?
	`, userKey).Scan(&e.UserKey, &e.Blacklisted, &e.UnblockRequested, &requestedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get blacklist: %w", err)
	}
	e.UnblockRequestedAt = parseTimePtr(requestedAt)
	return &e, true, nil
}

// UpsertBlacklist inserts or overwrites a user's access-control row.
func (s *SQLiteStore) UpsertBlacklist(e protocol.BlacklistEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO blacklist (user_key, blacklisted, unblock_requested, unblock_requested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_key) DO UPDATE SET
			blacklisted=excluded.blacklisted,
			unblock_requested=excluded.unblock_requested,
			unblock_requested_at=excluded.unblock_requested_at
	`, e.UserKey, e.Blacklisted, e.UnblockRequested, formatTimePtr(e.UnblockRequestedAt))
	if err != nil {
		return fmt.Errorf("store: upsert blacklist: %w", err)
	}
	return nil
}

// ListBlacklist returns every access-control row, including users whose
// block has since been lifted; callers read the Blacklisted flag.
func (s *SQLiteStore) ListBlacklist() ([]protocol.BlacklistEntry, error) {
	rows, err := s.db.Query(`
		SELECT user_key, blacklisted, unblock_requested, unblock_requested_at
		FROM blacklist ORDER BY user_key
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list blacklist: %w", err)
	}
	defer rows.Close()

	var out []protocol.BlacklistEntry
	for rows.Next() {
		var e protocol.BlacklistEntry
		var requestedAt *string
		if err := rows.Scan(&e.UserKey, &e.Blacklisted, &e.UnblockRequested, &requestedAt); err != nil {
			return nil, fmt.Errorf("store: list blacklist: scan: %w", err)
		}
		e.UnblockRequestedAt = parseTimePtr(requestedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePendingUnblock records an unblock request. If the user already has
// a pending request it is updated in place with decision fields reset;
// otherwise a new row is inserted. The stored row is written back to r.
func (s *SQLiteStore) SavePendingUnblock(r *protocol.UnblockRequest) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: save unblock request: begin: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRow(`
		SELECT id FROM unblock_requests WHERE user_key = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1
	`, r.UserKey, string(protocol.UnblockPending)).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: save unblock request: %w", err)
	}

	if existingID != "" {
		r.ID = existingID
		_, err = tx.Exec(`
			UPDATE unblock_requests SET channel_id = ?, reason = ?, status = ?, created_at = ?,
				decided_at = NULL, decided_by = '', decision_comment = ''
			WHERE id = ?
		`, r.ChannelID, r.Reason, string(protocol.UnblockPending), formatTime(r.CreatedAt), existingID)
	} else {
		_, err = tx.Exec(`
			INSERT INTO unblock_requests (`+unblockColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, NULL, '', '')
		`, r.ID, r.UserKey, r.ChannelID, r.Reason, string(protocol.UnblockPending), formatTime(r.CreatedAt))
	}
	if err != nil {
		return fmt.Errorf("store: save unblock request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save unblock request: commit: %w", err)
	}
	return nil
}

// LatestUnblockRequest returns the user's most recent request,
// restricted to pending ones when onlyPending is set.
func (s *SQLiteStore) LatestUnblockRequest(userKey string, onlyPending bool) (*protocol.UnblockRequest, bool, error) {
	query := `SELECT ` + unblockColumns + ` FROM unblock_requests WHERE user_key = ?`
	args := []any{userKey}
	if onlyPending {
		query += " AND status = ?"
		args = append(args, string(protocol.UnblockPending))
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	r, err := scanUnblock(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: latest unblock request: %w", err)
	}
	return r, true, nil
}

// GetUnblockRequest looks up one request by ID.
func (s *SQLiteStore) GetUnblockRequest(id string) (*protocol.UnblockRequest, bool, error) {
	r, err := scanUnblock(s.db.QueryRow(`SELECT `+unblockColumns+` FROM unblock_requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get unblock request: %w", err)
	}
	return r, true, nil
}

// ListUnblockRequests returns requests newest first, optionally filtered
// by status.
func (s *SQLiteStore) ListUnblockRequests(status protocol.UnblockStatus, limit int) ([]*protocol.UnblockRequest, error) {
	query := `SELECT ` + unblockColumns + ` FROM unblock_requests WHERE 1=1`
	var args []any
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list unblock requests: %w", err)
	}
	defer rows.Close()

	var out []*protocol.UnblockRequest
	for rows.Next() {
		r, err := scanUnblock(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list unblock requests: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecideUnblock stamps the decision fields on a pending request.
// found=false if the request does not exist or is already decided.
func (s *SQLiteStore) DecideUnblock(id string, status protocol.UnblockStatus, decidedBy, comment string, now time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE unblock_requests SET status = ?, decided_at = ?, decided_by = ?, decision_comment = ?
		WHERE id = ? AND status = ?
	`, string(status), formatTime(now), decidedBy, comment, id, string(protocol.UnblockPending))
	if err != nil {
		return false, fmt.Errorf("store: decide unblock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanUnblock(row scannable) (*protocol.UnblockRequest, error) {
	var r protocol.UnblockRequest
	var status, created string
	var decided *string
	err := row.Scan(&r.ID, &r.UserKey, &r.ChannelID, &r.Reason, &status, &created,
		&decided, &r.DecidedBy, &r.DecisionComment)
	if err != nil {
		return nil, err
	}
	r.Status = protocol.UnblockStatus(status)
	r.CreatedAt = parseTime(created)
	r.DecidedAt = parseTimePtr(decided)
	return &r, nil
}
