// Package blocklist checks inbound users against the blacklist and runs
// the cooldown-limited unblock-request workflow.
package blocklist

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Store is the slice of the persistence layer the gate needs.
type Store interface {
	GetBlacklist(userKey string) (*protocol.BlacklistEntry, bool, error)
	UpsertBlacklist(e protocol.BlacklistEntry) error
	SavePendingUnblock(r *protocol.UnblockRequest) error
	LatestUnblockRequest(userKey string, onlyPending bool) (*protocol.UnblockRequest, bool, error)
	GetUnblockRequest(id string) (*protocol.UnblockRequest, bool, error)
	DecideUnblock(id string, status protocol.UnblockStatus, decidedBy, comment string, now time.Time) (bool, error)
}

// Status is the gate's answer for one user.
type Status struct {
	Blacklisted      bool
	UnblockRequested bool
}

// Decision is the outcome of an unblock request attempt. When Created is
// false, Request holds the most recent prior request and RetryAfter how
// long the user still has to wait.
type Decision struct {
	Created    bool
	Request    *protocol.UnblockRequest
	RetryAfter time.Duration
}

// Gate sits in front of the conversation engine; blacklisted users never
// reach question-flow state.
type Gate struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a gate over the given store.
func New(store Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, logger: logger, now: time.Now}
}

// Status reports whether a user is blacklisted and whether an unblock
// request is on file.
func (g *Gate) Status(userKey string) (Status, error) {
	e, found, err := g.store.GetBlacklist(userKey)
	if err != nil {
		return Status{}, err
	}
	if !found {
		return Status{}, nil
	}
	return Status{Blacklisted: e.Blacklisted, UnblockRequested: e.UnblockRequested}, nil
}

// RequestUnblock records an unblock request unless the user is still
// inside the cooldown window. A cooldown of zero or less disables
// throttling entirely.
func (g *Gate) RequestUnblock(userKey, channelID, reason string, cooldown time.Duration) (Decision, error) {
	now := g.now()

	entry, found, err := g.store.GetBlacklist(userKey)
	if err != nil {
		return Decision{}, err
	}

	throttled := cooldown > 0 && found && entry.UnblockRequestedAt != nil &&
		now.Before(entry.UnblockRequestedAt.Add(cooldown))

	if throttled {
		req, ok, err := g.store.LatestUnblockRequest(userKey, true)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			// Fall back to the most recent request of any status.
			req, _, err = g.store.LatestUnblockRequest(userKey, false)
			if err != nil {
				return Decision{}, err
			}
		}
		return Decision{
			Request:    req,
			RetryAfter: entry.UnblockRequestedAt.Add(cooldown).Sub(now),
		}, nil
	}

	blacklisted := true
	if found {
		blacklisted = entry.Blacklisted
	}
	if err := g.store.UpsertBlacklist(protocol.BlacklistEntry{
		UserKey:            userKey,
		Blacklisted:        blacklisted,
		UnblockRequested:   true,
		UnblockRequestedAt: &now,
	}); err != nil {
		return Decision{}, err
	}

	req := &protocol.UnblockRequest{
		ID:        uuid.NewString(),
		UserKey:   userKey,
		ChannelID: channelID,
		Reason:    reason,
		Status:    protocol.UnblockPending,
		CreatedAt: now,
	}
	if err := g.store.SavePendingUnblock(req); err != nil {
		return Decision{}, err
	}

	g.logger.Info("unblock requested", "user", userKey, "request", req.ID)
	return Decision{Created: true, Request: req}, nil
}

// Block puts a user on the blacklist, clearing any stale unblock flags.
func (g *Gate) Block(userKey string) error {
	return g.store.UpsertBlacklist(protocol.BlacklistEntry{
		UserKey:     userKey,
		Blacklisted: true,
	})
}

// Unblock removes a user from the blacklist.
func (g *Gate) Unblock(userKey string) error {
	return g.store.UpsertBlacklist(protocol.BlacklistEntry{
		UserKey: userKey,
	})
}

// Decide resolves a pending unblock request. Approval also removes the
// user from the blacklist. found=false if the request is missing or
// already decided.
func (g *Gate) Decide(requestID string, approve bool, decidedBy, comment string) (*protocol.UnblockRequest, bool, error) {
	status := protocol.UnblockRejected
	if approve {
		status = protocol.UnblockApproved
	}

	ok, err := g.store.DecideUnblock(requestID, status, decidedBy, comment, g.now())
	if err != nil || !ok {
		return nil, false, err
	}

	req, _, err := g.store.GetUnblockRequest(requestID)
	if err != nil {
		return nil, false, err
	}
	if req == nil {
		return nil, false, fmt.Errorf("blocklist: request %q vanished after decide", requestID)
	}

	if approve {
		if err := g.Unblock(req.UserKey); err != nil {
			return nil, false, err
		}
	}

	g.logger.Info("unblock request decided", "request", requestID, "status", status, "by", decidedBy)
	return req, true, nil
}
