package api

import (
	"context"
	"time"

	"github.com/deskbot-io/deskbot/internal/blocklist"
	"github.com/deskbot-io/deskbot/internal/dispatch"
	"github.com/deskbot-io/deskbot/internal/feedback"
	"github.com/deskbot-io/deskbot/internal/lifecycle"
	"github.com/deskbot-io/deskbot/internal/store"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Service implements DeskService over the bot's domain components.
type Service struct {
	store     *store.SQLiteStore
	lifecycle *lifecycle.Manager
	feedback  *feedback.Scheduler
	gate      *blocklist.Gate
	dispatch  *dispatch.Registry
}

// NewService creates the operator-facing service facade.
func NewService(st *store.SQLiteStore, lc *lifecycle.Manager, fb *feedback.Scheduler, gate *blocklist.Gate, disp *dispatch.Registry) *Service {
	return &Service{store: st, lifecycle: lc, feedback: fb, gate: gate, dispatch: disp}
}

func (s *Service) ListTickets(filter store.TicketFilter) ([]*protocol.Ticket, error) {
	return s.store.ListTickets(filter)
}

func (s *Service) GetTicket(id string) (*protocol.Ticket, bool, error) {
	return s.lifecycle.Get(id)
}

func (s *Service) CloseTicket(id, resolvedBy string) (*protocol.Ticket, bool, error) {
	return s.lifecycle.Close(id, resolvedBy, protocol.SourceOperatorClose)
}

func (s *Service) ReopenTicket(id string) (*protocol.Ticket, bool, error) {
	return s.lifecycle.Reopen(id)
}

func (s *Service) TicketHistory(ticketID string) ([]protocol.ChatEvent, error) {
	return s.store.ListEvents(ticketID)
}

func (s *Service) ListFeedback(since time.Time) ([]*protocol.Feedback, error) {
	return s.store.ListFeedback(since)
}

func (s *Service) FeedbackDigest(window time.Duration) (feedback.Digest, error) {
	return s.feedback.BuildDigest(window)
}

func (s *Service) ListBlacklist() ([]protocol.BlacklistEntry, error) {
	return s.store.ListBlacklist()
}

func (s *Service) Block(userKey string) error {
	return s.gate.Block(userKey)
}

func (s *Service) Unblock(userKey string) error {
	return s.gate.Unblock(userKey)
}

func (s *Service) ListUnblockRequests(status string, limit int) ([]*protocol.UnblockRequest, error) {
	return s.store.ListUnblockRequests(protocol.UnblockStatus(status), limit)
}

// DecideUnblock records the operator decision and tells the user the
// outcome on their platform. found=false when the request is missing or
// already decided.
func (s *Service) DecideUnblock(id string, approve bool, decidedBy, comment string) (*protocol.UnblockRequest, bool, error) {
	req, found, err := s.gate.Decide(id, approve, decidedBy, comment)
	if err != nil || !found {
		return nil, false, err
	}

	platform, userID := protocol.SplitUserKey(req.UserKey)
	text := "Your unblock request was declined."
	if approve {
		text = "Your access has been restored. Write to us when you need help."
	}
	if comment != "" {
		text += "\nOperator comment: " + comment
	}
	s.dispatch.SendToUser(context.Background(), platform, userID, text)

	return req, true, nil
}
