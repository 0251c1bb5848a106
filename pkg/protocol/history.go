package protocol

import "time"

// EventKind classifies who produced a chat-history entry.
type EventKind string

const (
	EventUser     EventKind = "user"
	EventBot      EventKind = "bot"
	EventOperator EventKind = "operator"
	EventSystem   EventKind = "system"
)

// ChatEvent is one append-only chat-history record for a ticket.
type ChatEvent struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Kind      EventKind `json:"kind"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel describes one configured support channel. Settings holds the
// channel's raw question-flow and rating configuration; it is decoded by
// the settings resolver, never interpreted elsewhere.
type Channel struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Title    string `json:"title,omitempty"`
	Settings []byte `json:"settings,omitempty"`
}
