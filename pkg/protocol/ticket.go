package protocol

import (
	"strings"
	"time"
)

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Close sources recorded on a ticket and propagated to the feedback
// request created for it.
const (
	SourceOperatorClose = "operator_close"
	SourceAutoClose     = "auto_close"
	SourceUserPrompt    = "user_prompt"
	SourceInactivity    = "inactivity"
)

// Ticket is a unit of support work created from a finished conversation.
// Ref is the human-facing reference number shown to the user; ID is the
// internal identifier.
type Ticket struct {
	ID               string            `json:"id"`
	Ref              int64             `json:"ref"`
	UserKey          string            `json:"user_key"`
	Username         string            `json:"username,omitempty"`
	ChannelID        string            `json:"channel_id"`
	Status           TicketStatus      `json:"status"`
	Answers          map[string]string `json:"answers,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	ReopenCount      int               `json:"reopen_count"`
	ClosedCount      int               `json:"closed_count"`
	WorkTimeTotalSec int64             `json:"work_time_total_sec"`
	CreatedAt        time.Time         `json:"created_at"`
	LastReopenAt     *time.Time        `json:"last_reopen_at,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy       string            `json:"resolved_by,omitempty"`
	CloseSource      string            `json:"close_source,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Spans       []TicketSpan `json:"spans,omitempty"`
	Events      []ChatEvent  `json:"events,omitempty"`
}

// TicketSpan is one open interval of a ticket's active lifetime.
// EndedAt is nil for the live span; at most one span per ticket is live.
type TicketSpan struct {
	TicketID    string     `json:"ticket_id"`
	SpanNo      int        `json:"span_no"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationSec int64      `json:"duration_sec"`
}

// TicketActive is the single row kept per open ticket, used as the
// idle-timeout and "find my active ticket" index.
type TicketActive struct {
	TicketID string    `json:"ticket_id"`
	UserKey  string    `json:"user_key"`
	Username string    `json:"username,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// UserKey builds the cross-platform user identity "platform:id".
func UserKey(platform, userID string) string {
	return platform + ":" + userID
}

// SplitUserKey is the inverse of UserKey. The second value is empty if
// the key carries no platform prefix.
func SplitUserKey(key string) (platform, userID string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}
