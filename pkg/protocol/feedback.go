package protocol

import "time"

// FeedbackRequest is a time-boxed invitation for a user to rate a ticket.
// A request is active iff ExpiresAt is after now.
type FeedbackRequest struct {
	ID        string     `json:"id"`
	UserKey   string     `json:"user_key"`
	ChannelID string     `json:"channel_id,omitempty"`
	TicketID  string     `json:"ticket_id"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Active reports whether the request can still be matched to a reply.
func (r FeedbackRequest) Active(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Feedback is a recorded rating bound to the request it answered.
type Feedback struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	TicketID  string    `json:"ticket_id"`
	UserKey   string    `json:"user_key"`
	ChannelID string    `json:"channel_id,omitempty"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}
