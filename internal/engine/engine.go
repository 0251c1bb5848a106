// Package engine is the inbound pipeline: blacklist gate, feedback
// short-circuit, then the conversation flow that produces tickets.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskbot-io/deskbot/internal/blocklist"
	"github.com/deskbot-io/deskbot/internal/connector"
	"github.com/deskbot-io/deskbot/internal/conversation"
	"github.com/deskbot-io/deskbot/internal/dispatch"
	"github.com/deskbot-io/deskbot/internal/feedback"
	"github.com/deskbot-io/deskbot/internal/lifecycle"
	"github.com/deskbot-io/deskbot/internal/notify"
	"github.com/deskbot-io/deskbot/internal/session"
	"github.com/deskbot-io/deskbot/internal/settings"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

const (
	cancelCommand  = "/cancel"
	startCommand   = "/start"
	unblockCommand = "/unblock"
)

// Store is the slice of the persistence layer the engine touches
// directly; everything else goes through the domain components.
type Store interface {
	LastAnswers(userKey string) (map[string]string, bool, error)
	FindActiveByUser(userKey string) (*protocol.TicketActive, bool, error)
	AppendEvent(e *protocol.ChatEvent) error
}

// Engine wires the gate, the feedback scheduler and the conversation
// flow behind the single onInboundEvent entry point.
type Engine struct {
	store     Store
	sessions  *session.Registry
	conv      *conversation.Engine
	lifecycle *lifecycle.Manager
	feedback  *feedback.Scheduler
	gate      *blocklist.Gate
	settings  *settings.Resolver
	dispatch  *dispatch.Registry
	notifier  notify.Notifier
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Config collects the engine's collaborators.
type Config struct {
	Store           Store
	Sessions        *session.Registry
	Conversation    *conversation.Engine
	Lifecycle       *lifecycle.Manager
	Feedback        *feedback.Scheduler
	Gate            *blocklist.Gate
	Settings        *settings.Resolver
	Dispatch        *dispatch.Registry
	Notifier        notify.Notifier
	UnblockCooldown time.Duration
	Logger          *slog.Logger
}

// New creates the inbound engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Engine{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		conv:      cfg.Conversation,
		lifecycle: cfg.Lifecycle,
		feedback:  cfg.Feedback,
		gate:      cfg.Gate,
		settings:  cfg.Settings,
		dispatch:  cfg.Dispatch,
		notifier:  notifier,
		cooldown:  cfg.UnblockCooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleInbound processes one platform event end to end.
func (e *Engine) HandleInbound(ctx context.Context, msg connector.InboundMessage) error {
	userKey := protocol.UserKey(msg.Platform, msg.SenderID)
	text := strings.TrimSpace(msg.Content)

	status, err := e.gate.Status(userKey)
	if err != nil {
		return fmt.Errorf("engine: gate: %w", err)
	}
	if status.Blacklisted {
		return e.handleBlocked(ctx, msg, userKey, text)
	}

	if text != "" {
		reply, handled, err := e.feedback.MatchReply(userKey, msg.ChannelID, text)
		if err != nil {
			return fmt.Errorf("engine: feedback: %w", err)
		}
		if handled {
			e.reply(ctx, msg, reply)
			return nil
		}
	}

	switch text {
	case cancelCommand:
		e.sessions.Remove(msg.Platform, msg.SenderID)
		e.reply(ctx, msg, "Conversation cancelled. Write to us when you need help again.")
		return nil
	case startCommand:
		e.sessions.Remove(msg.Platform, msg.SenderID)
		text = ""
	}

	// A user with an open ticket and no conversation in flight is
	// talking to the operators, not to the question flow.
	if _, inFlight := e.sessions.Get(msg.Platform, msg.SenderID); !inFlight {
		active, found, err := e.store.FindActiveByUser(userKey)
		if err != nil {
			return fmt.Errorf("engine: active lookup: %w", err)
		}
		if found {
			return e.relayToTicket(ctx, msg, active, text)
		}
	}

	return e.converse(ctx, msg, userKey, text)
}

func (e *Engine) handleBlocked(ctx context.Context, msg connector.InboundMessage, userKey, text string) error {
	if !strings.HasPrefix(text, unblockCommand) {
		e.reply(ctx, msg, "You are blocked from creating tickets. Send /unblock <reason> to request access.")
		return nil
	}

	reason := strings.TrimSpace(strings.TrimPrefix(text, unblockCommand))
	decision, err := e.gate.RequestUnblock(userKey, msg.ChannelID, reason, e.cooldown)
	if err != nil {
		return fmt.Errorf("engine: unblock request: %w", err)
	}

	if decision.Created {
		e.reply(ctx, msg, "Your unblock request has been sent to the operators.")
		e.notify(ctx, fmt.Sprintf("Unblock request from %s: %s", userKey, reason))
		return nil
	}

	minutes := int(decision.RetryAfter.Minutes()) + 1
	e.reply(ctx, msg, fmt.Sprintf("You already have a request on file. Try again in %d minute(s).", minutes))
	return nil
}

func (e *Engine) relayToTicket(ctx context.Context, msg connector.InboundMessage, active *protocol.TicketActive, text string) error {
	if _, err := e.lifecycle.RegisterActivity(active.TicketID, msg.Username); err != nil {
		return fmt.Errorf("engine: register activity: %w", err)
	}

	body := text
	for _, a := range msg.Attachments {
		if body != "" {
			body += "\n"
		}
		body += fmt.Sprintf("[%s] %s", a.Kind, a.Path)
	}
	if body == "" {
		return nil
	}

	err := e.store.AppendEvent(&protocol.ChatEvent{
		ID:        uuid.NewString(),
		TicketID:  active.TicketID,
		Kind:      protocol.EventUser,
		Author:    msg.Username,
		Body:      body,
		CreatedAt: e.now(),
	})
	if err != nil {
		return fmt.Errorf("engine: append history: %w", err)
	}

	e.dispatch.SendToSupport(ctx, msg.Platform,
		fmt.Sprintf("Message on ticket %s from %s:\n%s", active.TicketID, msg.Username, body))
	return nil
}

func (e *Engine) converse(ctx context.Context, msg connector.InboundMessage, userKey, text string) error {
	var firstPrompt string
	s, created, err := e.sessions.GetOrCreate(msg.Platform, msg.SenderID, func() (*session.Session, error) {
		flow, err := e.settings.FlowFor(msg.ChannelID)
		if err != nil {
			return nil, err
		}
		prior, _, err := e.store.LastAnswers(userKey)
		if err != nil {
			return nil, err
		}
		// The free-text problem is re-asked on every ticket.
		delete(prior, settings.ProblemKey)
		sess, prompt := e.conv.Start(msg.Platform, msg.SenderID, msg.Username, flow, prior)
		firstPrompt = prompt
		return sess, nil
	})
	if err != nil {
		return fmt.Errorf("engine: start session: %w", err)
	}

	for _, a := range msg.Attachments {
		out := e.conv.Attach(s, a)
		if text == "" && !created {
			e.reply(ctx, msg, out.Reply)
		}
	}

	if created {
		e.reply(ctx, msg, firstPrompt)
		return nil
	}
	if text == "" && len(msg.Attachments) > 0 {
		return nil
	}

	out := e.conv.Advance(s, text)
	if out.Completed == nil {
		e.reply(ctx, msg, out.Reply)
		return nil
	}
	return e.finish(ctx, msg, userKey, out.Completed)
}

func (e *Engine) finish(ctx context.Context, msg connector.InboundMessage, userKey string, res *conversation.Result) error {
	t, err := e.lifecycle.Create(userKey, msg.Username, msg.ChannelID, res.Answers, res.Attachments, res.Summary)
	if err != nil {
		// The session stays alive so the user's next message retries.
		e.reply(ctx, msg, "Something went wrong while creating your ticket. Please try again.")
		return fmt.Errorf("engine: create ticket: %w", err)
	}
	e.sessions.Remove(msg.Platform, msg.SenderID)

	if _, err := e.feedback.Ensure(t.ID, userKey, msg.ChannelID, protocol.SourceUserPrompt); err != nil {
		e.logger.Error("failed to prime feedback request", "ticket", t.ID, "error", err)
	}

	confirmation := fmt.Sprintf("Ticket #%d created. Our operators will contact you shortly.", t.Ref)
	if rating, err := e.settings.RatingFor(msg.ChannelID); err == nil {
		confirmation += "\n" + rating.PromptFor(t.Ref)
	}
	e.reply(ctx, msg, confirmation)

	e.dispatch.SendToSupport(ctx, msg.Platform,
		fmt.Sprintf("New ticket #%d from %s:\n%s", t.Ref, msg.Username, res.Summary))
	e.notify(ctx, fmt.Sprintf("New ticket #%d from %s (%s)", t.Ref, msg.Username, userKey))
	return nil
}

func (e *Engine) reply(ctx context.Context, msg connector.InboundMessage, text string) {
	if text == "" {
		return
	}
	e.dispatch.SendToUser(ctx, msg.Platform, msg.SenderID, text)
}

func (e *Engine) notify(ctx context.Context, text string) {
	if err := e.notifier.Notify(ctx, text); err != nil {
		e.logger.Error("support notification failed", "error", err)
	}
}
