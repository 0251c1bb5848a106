// Package notify posts operator notifications (new tickets, unblock
// requests, feedback digests) to a Slack channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier delivers a short text notification to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Slack posts notifications via the Slack Web API.
type Slack struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier and verifies the token.
func NewSlack(botToken, channel string, logger *slog.Logger) (*Slack, error) {
	if botToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(botToken)
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("notify: slack auth test: %w", err)
	}
	logger.Info("slack notifier authorized", "user", authResp.User, "team", authResp.Team)

	return &Slack{api: api, channel: channel, logger: logger}, nil
}

// Notify posts one message to the configured channel.
func (s *Slack) Notify(ctx context.Context, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}

// Noop is the notifier used when Slack is not configured.
type Noop struct{}

// Notify discards the notification.
func (Noop) Notify(context.Context, string) error { return nil }
