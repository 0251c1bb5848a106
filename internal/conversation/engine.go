// Package conversation drives a single user through an ordered question
// flow and emits the finished answer set a ticket is created from.
package conversation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deskbot-io/deskbot/internal/session"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Result is a finished conversation, ready for ticket creation.
type Result struct {
	Answers     map[string]string
	Attachments []protocol.Attachment
	StartedAt   time.Time
	Summary     string
}

// Outcome is the engine's reaction to one inbound input: either the next
// prompt to send, or a completed answer set.
type Outcome struct {
	Reply     string
	Completed *Result
}

// Engine advances conversation sessions. It owns no state of its own;
// all per-user state lives in the session.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a conversation engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, now: time.Now}
}

// Start builds a new session over the given flow snapshot. When prior
// answers from the user's most recent ticket cover part of the flow, the
// session begins in the reuse-decision sub-state. The returned string is
// the first message to send to the user.
func (e *Engine) Start(platform, userID, username string, flow []protocol.QuestionItem, prior map[string]string) (*session.Session, string) {
	now := e.now()
	s := &session.Session{
		Platform:  platform,
		UserID:    userID,
		Username:  username,
		Flow:      flow,
		Answers:   make(map[string]string),
		StartedAt: now,
		LastSeen:  now,
	}

	if coversAny(flow, prior) {
		s.ReuseOffer = prior
		s.AwaitingReuse = true
		return s, reusePrompt(flow, prior)
	}

	if q, ok := s.Current(); ok {
		return s, q.Prompt
	}
	// Empty flow cannot happen with the implicit problem question, but
	// the cursor invariant keeps this safe regardless.
	return s, ""
}

// Advance feeds one text reply into the session.
func (e *Engine) Advance(s *session.Session, text string) Outcome {
	s.LastSeen = e.now()

	if s.AwaitingReuse {
		return e.advanceReuse(s, text)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if q, ok := s.Current(); ok {
			return Outcome{Reply: q.Prompt}
		}
		return e.complete(s)
	}

	s.Record(text)
	if s.Complete() {
		return e.complete(s)
	}
	q, _ := s.Current()
	return Outcome{Reply: q.Prompt}
}

// Attach appends an attachment to the session without advancing the
// cursor.
func (e *Engine) Attach(s *session.Session, a protocol.Attachment) Outcome {
	s.LastSeen = e.now()
	s.Attach(a)
	return Outcome{Reply: fmt.Sprintf("Attachment saved (%s). %d file(s) will be added to your ticket.", a.Kind, len(s.Attachments))}
}

func (e *Engine) advanceReuse(s *session.Session, text string) Outcome {
	yes, ok := classifyYesNo(text)
	if !ok {
		return Outcome{Reply: "Please answer yes or no."}
	}
	if yes {
		s.AcceptReuse()
	} else {
		s.DeclineReuse()
	}
	if s.Complete() {
		return e.complete(s)
	}
	q, _ := s.Current()
	return Outcome{Reply: q.Prompt}
}

func (e *Engine) complete(s *session.Session) Outcome {
	return Outcome{Completed: &Result{
		Answers:     s.Answers,
		Attachments: s.Attachments,
		StartedAt:   s.StartedAt,
		Summary:     renderSummary(s),
	}}
}

// classifyYesNo matches a reply by its first letter across the two
// alphabets users write in: "д"/"y" mean yes, "н"/"n" mean no. Anything
// else is not a decision.
func classifyYesNo(reply string) (yes, ok bool) {
	reply = strings.ToLower(strings.TrimSpace(reply))
	if reply == "" {
		return false, false
	}
	switch []rune(reply)[0] {
	case 'д', 'y':
		return true, true
	case 'н', 'n':
		return false, true
	}
	return false, false
}

// coversAny reports whether the cached answers match at least one flow
// item; an offer that could rehydrate nothing is not worth making.
func coversAny(flow []protocol.QuestionItem, prior map[string]string) bool {
	for _, q := range flow {
		if _, ok := prior[q.Key]; ok {
			return true
		}
	}
	return false
}

func reusePrompt(flow []protocol.QuestionItem, prior map[string]string) string {
	var b strings.Builder
	b.WriteString("You already have answers from your previous ticket:\n")
	for _, q := range flow {
		v, ok := prior[q.Key]
		if !ok {
			break
		}
		fmt.Fprintf(&b, "- %s %s\n", q.Prompt, v)
	}
	b.WriteString("Use them again? (yes/no)")
	return b.String()
}

func renderSummary(s *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation started %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	for _, q := range s.Flow {
		if v, ok := s.Answers[q.Key]; ok {
			fmt.Fprintf(&b, "%s %s\n", q.Prompt, v)
		}
	}
	if n := len(s.Attachments); n > 0 {
		fmt.Fprintf(&b, "Attachments: %d\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}
