// Package session holds in-flight conversation state. Sessions live only
// in memory: a restart drops them, which is accepted behaviour.
package session

import (
	"time"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Session is one user's in-progress ticket conversation. The flow is an
// immutable snapshot taken at session start; Cursor always satisfies
// 0 <= Cursor <= len(Flow) and the session is complete iff they are equal.
//
// A session is only ever touched by the single inbound-message path of
// its platform, so it carries no lock of its own; the Registry guards
// the map.
type Session struct {
	Platform string
	UserID   string
	Username string

	Flow    []protocol.QuestionItem
	Answers map[string]string
	Cursor  int

	// ReuseOffer holds the cached answers of the user's most recent
	// ticket. While AwaitingReuse is set the session only accepts a
	// yes/no decision before normal question advance resumes.
	ReuseOffer    map[string]string
	AwaitingReuse bool

	Attachments []protocol.Attachment
	StartedAt   time.Time
	LastSeen    time.Time
}

// Complete reports whether every flow item has been answered.
func (s *Session) Complete() bool {
	return s.Cursor >= len(s.Flow)
}

// Current returns the question at the cursor. ok=false past completion,
// never a panic.
func (s *Session) Current() (protocol.QuestionItem, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Flow) {
		return protocol.QuestionItem{}, false
	}
	return s.Flow[s.Cursor], true
}

// Record stores an answer for the current question and advances the
// cursor by one. It is a no-op on a complete session.
func (s *Session) Record(answer string) {
	q, ok := s.Current()
	if !ok {
		return
	}
	s.Answers[q.Key] = answer
	s.Cursor++
}

// AcceptReuse rehydrates answers from the reuse offer and advances the
// cursor past the longest flow prefix covered by cached answers,
// stopping at the first item lacking one.
func (s *Session) AcceptReuse() {
	for _, q := range s.Flow[s.Cursor:] {
		cached, ok := s.ReuseOffer[q.Key]
		if !ok {
			break
		}
		s.Answers[q.Key] = cached
		s.Cursor++
	}
	s.ReuseOffer = nil
	s.AwaitingReuse = false
}

// DeclineReuse drops the offer and resumes normal question advance.
func (s *Session) DeclineReuse() {
	s.ReuseOffer = nil
	s.AwaitingReuse = false
}

// Attach appends a stored-file reference without advancing the cursor.
func (s *Session) Attach(a protocol.Attachment) {
	s.Attachments = append(s.Attachments, a)
}
