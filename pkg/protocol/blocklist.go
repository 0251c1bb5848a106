package protocol

import "time"

// BlacklistEntry is the per-user access-control row.
type BlacklistEntry struct {
	UserKey            string     `json:"user_key"`
	Blacklisted        bool       `json:"blacklisted"`
	UnblockRequested   bool       `json:"unblock_requested"`
	UnblockRequestedAt *time.Time `json:"unblock_requested_at,omitempty"`
}

// UnblockStatus is the review state of an unblock request.
type UnblockStatus string

const (
	UnblockPending  UnblockStatus = "pending"
	UnblockApproved UnblockStatus = "approved"
	UnblockRejected UnblockStatus = "rejected"
)

// UnblockRequest is one entry of the append-style unblock-request log.
type UnblockRequest struct {
	ID              string        `json:"id"`
	UserKey         string        `json:"user_key"`
	ChannelID       string        `json:"channel_id,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Status          UnblockStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	DecidedBy       string        `json:"decided_by,omitempty"`
	DecisionComment string        `json:"decision_comment,omitempty"`
}
