// Package feedback keeps one time-boxed rating invitation per closed
// ticket and matches inbound numeric replies against it.
package feedback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deskbot-io/deskbot/internal/settings"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// DefaultTTL is the expiry window of a pending feedback request.
const DefaultTTL = 24 * time.Hour

const defaultThanks = "Thank you for your feedback!"

// Store is the slice of the persistence layer the scheduler needs.
type Store interface {
	SaveFeedbackRequest(r *protocol.FeedbackRequest) error
	LatestRequestForTicket(ticketID string) (*protocol.FeedbackRequest, bool, error)
	LatestActiveRequest(userKey, channelID string, now time.Time) (*protocol.FeedbackRequest, bool, error)
	ExpireRequest(id string, now time.Time) error
	MarkRequestSent(id string, now time.Time) error
	UnsentRequests(now time.Time) ([]*protocol.FeedbackRequest, error)
	SaveFeedback(f *protocol.Feedback) error
	ListFeedback(since time.Time) ([]*protocol.Feedback, error)
}

// Settings resolves rating scales per channel.
type Settings interface {
	RatingFor(channelID string) (settings.Rating, error)
}

// Scheduler owns pending feedback requests and recorded ratings.
type Scheduler struct {
	store    Store
	settings Settings
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a scheduler. ttl <= 0 selects DefaultTTL.
func New(store Store, set Settings, ttl time.Duration, logger *slog.Logger) *Scheduler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, settings: set, ttl: ttl, logger: logger, now: time.Now}
}

// Ensure creates or refreshes the pending request for a ticket. An
// existing row gets a fresh expiry and the new source; a user_prompt
// request that was never delivered gets its sent stamp now.
func (s *Scheduler) Ensure(ticketID, userKey, channelID, source string) (*protocol.FeedbackRequest, error) {
	now := s.now()

	req, found, err := s.store.LatestRequestForTicket(ticketID)
	if err != nil {
		return nil, err
	}
	if found {
		req.ExpiresAt = now.Add(s.ttl)
		req.Source = source
		if source == protocol.SourceUserPrompt && req.SentAt == nil {
			req.SentAt = &now
		}
		if err := s.store.SaveFeedbackRequest(req); err != nil {
			return nil, err
		}
		return req, nil
	}

	req = &protocol.FeedbackRequest{
		ID:        uuid.NewString(),
		UserKey:   userKey,
		ChannelID: channelID,
		TicketID:  ticketID,
		Source:    source,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if source == protocol.SourceUserPrompt {
		req.SentAt = &now
	}
	if err := s.store.SaveFeedbackRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// FindActive returns the request a numeric reply from this user should
// match: the most recent unexpired request on the channel, falling back
// to the most recent unexpired request for the user on any channel.
func (s *Scheduler) FindActive(userKey, channelID string) (*protocol.FeedbackRequest, bool, error) {
	now := s.now()

	if channelID != "" {
		req, found, err := s.store.LatestActiveRequest(userKey, channelID, now)
		if err != nil || found {
			return req, found, err
		}
	}
	return s.store.LatestActiveRequest(userKey, "", now)
}

// Record stores the rating for a request and expires the request
// immediately so it can never match a second reply.
func (s *Scheduler) Record(req *protocol.FeedbackRequest, rating int) (*protocol.Feedback, error) {
	now := s.now()
	f := &protocol.Feedback{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		TicketID:  req.TicketID,
		UserKey:   req.UserKey,
		ChannelID: req.ChannelID,
		Rating:    rating,
		CreatedAt: now,
	}
	if err := s.store.SaveFeedback(f); err != nil {
		return nil, err
	}
	if err := s.store.ExpireRequest(req.ID, now); err != nil {
		return nil, err
	}
	s.logger.Info("feedback recorded", "ticket", req.TicketID, "user", req.UserKey, "rating", rating)
	return f, nil
}

// MatchReply tries to treat an inbound text as a rating. handled=false
// means there is no active request or the value is out of range for the
// channel's scale; the caller's normal message handling resumes.
func (s *Scheduler) MatchReply(userKey, channelID, text string) (reply string, handled bool, err error) {
	req, found, err := s.FindActive(userKey, channelID)
	if err != nil || !found {
		return "", false, err
	}

	scaleChannel := req.ChannelID
	if scaleChannel == "" {
		scaleChannel = channelID
	}
	rating, err := s.settings.RatingFor(scaleChannel)
	if err != nil {
		return "", false, err
	}

	value, ok := rating.ParseValue(text)
	if !ok {
		return "", false, nil
	}

	if _, err := s.Record(req, value); err != nil {
		return "", false, err
	}

	if text, ok := rating.ResponseFor(value); ok {
		return text, true, nil
	}
	return defaultThanks, true, nil
}

// Digest summarises ratings recorded in the given window, for the
// support-chat digest.
type Digest struct {
	Window  time.Duration
	Count   int
	Average float64
	ByValue map[int]int
}

// BuildDigest aggregates feedback recorded during the last window.
func (s *Scheduler) BuildDigest(window time.Duration) (Digest, error) {
	list, err := s.store.ListFeedback(s.now().Add(-window))
	if err != nil {
		return Digest{}, err
	}

	d := Digest{Window: window, ByValue: make(map[int]int)}
	sum := 0
	for _, f := range list {
		d.Count++
		sum += f.Rating
		d.ByValue[f.Rating]++
	}
	if d.Count > 0 {
		d.Average = float64(sum) / float64(d.Count)
	}
	return d, nil
}

// String renders the digest for the support chat.
func (d Digest) String() string {
	if d.Count == 0 {
		return fmt.Sprintf("Feedback digest: no ratings in the last %s.", d.Window)
	}
	return fmt.Sprintf("Feedback digest: %d rating(s) in the last %s, average %.2f.", d.Count, d.Window, d.Average)
}

// SendPending delivers not-yet-sent rating prompts. render produces the
// message for a request (empty string skips it) and send performs the
// delivery; requests are stamped sent only after a successful send.
func (s *Scheduler) SendPending(render func(req *protocol.FeedbackRequest) string, send func(userKey, text string) bool) (int, error) {
	now := s.now()
	pending, err := s.store.UnsentRequests(now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, req := range pending {
		text := render(req)
		if text == "" {
			continue
		}
		if !send(req.UserKey, text) {
			s.logger.Warn("feedback prompt delivery failed", "request", req.ID, "user", req.UserKey)
			continue
		}
		if err := s.store.MarkRequestSent(req.ID, now); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
