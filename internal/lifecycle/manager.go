// Package lifecycle manages ticket open/reopen/close transitions, span
// accounting and the idle sweep.
package lifecycle

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Store is the slice of the persistence layer the manager needs. The
// composite mutations are transactional inside the store, so a racing
// idle sweep and operator action cannot produce lost updates.
type Store interface {
	CreateTicket(t *protocol.Ticket) error
	CloseTicket(id, resolvedBy, source string, now time.Time) (*protocol.Ticket, bool, error)
	ReopenTicket(id string, now time.Time) (*protocol.Ticket, bool, error)
	GetTicket(id string) (*protocol.Ticket, bool, error)
	TouchActive(ticketID, username string, now time.Time) (bool, error)
	ListActiveOlderThan(cutoff time.Time) ([]protocol.TicketActive, error)
	AppendEvent(e *protocol.ChatEvent) error
}

// FeedbackScheduler primes or refreshes the pending rating request when
// a ticket closes.
type FeedbackScheduler interface {
	Ensure(ticketID, userKey, channelID, source string) (*protocol.FeedbackRequest, error)
}

// Manager drives the ticket state machine.
type Manager struct {
	store    Store
	feedback FeedbackScheduler
	logger   *slog.Logger
	now      func() time.Time

	// OnClosed and OnReopened fire after a successful transition, with
	// the transition already committed. Used for user-facing messaging.
	OnClosed   func(t *protocol.Ticket, source string)
	OnReopened func(t *protocol.Ticket)
}

// New creates a lifecycle manager.
func New(store Store, feedback FeedbackScheduler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, feedback: feedback, logger: logger, now: time.Now}
}

// Create allocates a fresh ticket from a finished conversation: open
// status, zeroed counters, span #1 live and the active row present.
func (m *Manager) Create(userKey, username, channelID string, answers map[string]string, attachments []protocol.Attachment, summary string) (*protocol.Ticket, error) {
	t := &protocol.Ticket{
		ID:          uuid.NewString(),
		UserKey:     userKey,
		Username:    username,
		ChannelID:   channelID,
		Status:      protocol.TicketOpen,
		Answers:     answers,
		Summary:     summary,
		Attachments: attachments,
		CreatedAt:   m.now(),
	}
	if err := m.store.CreateTicket(t); err != nil {
		return nil, err
	}

	m.appendSystemEvent(t.ID, "Ticket created")
	m.logger.Info("ticket created", "ticket", t.ID, "ref", t.Ref, "user", userKey, "channel", channelID)
	return t, nil
}

// Close moves a ticket to closed: resolution stamps, closed counter,
// live span ended with its duration added to the work-time total, active
// row removed, and the feedback request (re)armed. Closing a missing or
// already-closed ticket is a no-op returning found=false.
func (m *Manager) Close(id, resolvedBy, source string) (*protocol.Ticket, bool, error) {
	t, found, err := m.store.CloseTicket(id, resolvedBy, source, m.now())
	if err != nil || !found {
		return nil, false, err
	}

	m.appendSystemEvent(t.ID, "Ticket closed by "+resolvedBy)

	if _, err := m.feedback.Ensure(t.ID, t.UserKey, t.ChannelID, source); err != nil {
		m.logger.Error("failed to arm feedback request", "ticket", t.ID, "error", err)
	}

	m.logger.Info("ticket closed", "ticket", t.ID, "by", resolvedBy, "source", source,
		"work_time_sec", t.WorkTimeTotalSec)

	if m.OnClosed != nil {
		m.OnClosed(t, source)
	}
	return t, true, nil
}

// Reopen moves a closed ticket back to open with a fresh span numbered
// one past the highest existing one. Reopening a missing or already-open
// ticket is a no-op returning found=false.
func (m *Manager) Reopen(id string) (*protocol.Ticket, bool, error) {
	t, found, err := m.store.ReopenTicket(id, m.now())
	if err != nil || !found {
		return nil, false, err
	}

	m.appendSystemEvent(t.ID, "Ticket reopened")
	m.logger.Info("ticket reopened", "ticket", t.ID, "reopen_count", t.ReopenCount)

	if m.OnReopened != nil {
		m.OnReopened(t)
	}
	return t, true, nil
}

// RegisterActivity refreshes the idle-timeout stamp for an open ticket.
// found=false when the ticket has no active row.
func (m *Manager) RegisterActivity(ticketID, username string) (bool, error) {
	return m.store.TouchActive(ticketID, username, m.now())
}

// CloseInactive auto-closes every ticket whose last activity is older
// than the idle threshold. Safe to run repeatedly: tickets closed by a
// concurrent operator action are skipped as no-ops.
func (m *Manager) CloseInactive(idleThreshold time.Duration) (int, error) {
	stale, err := m.store.ListActiveOlderThan(m.now().Add(-idleThreshold))
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, a := range stale {
		_, found, err := m.Close(a.TicketID, protocol.SourceAutoClose, protocol.SourceInactivity)
		if err != nil {
			m.logger.Error("idle sweep close failed", "ticket", a.TicketID, "error", err)
			continue
		}
		if found {
			closed++
		}
	}

	if closed > 0 {
		m.logger.Info("idle sweep finished", "closed", closed, "threshold", idleThreshold)
	}
	return closed, nil
}

// Get loads a ticket. found=false if it does not exist.
func (m *Manager) Get(id string) (*protocol.Ticket, bool, error) {
	return m.store.GetTicket(id)
}

func (m *Manager) appendSystemEvent(ticketID, body string) {
	err := m.store.AppendEvent(&protocol.ChatEvent{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		Kind:      protocol.EventSystem,
		Body:      body,
		CreatedAt: m.now(),
	})
	if err != nil {
		m.logger.Error("failed to append system event", "ticket", ticketID, "error", err)
	}
}
