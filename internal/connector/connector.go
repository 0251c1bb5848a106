package connector

import (
	"context"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Connector is the interface for external messaging platforms
// (Telegram, VK, the web form).
type Connector interface {
	// Name returns the platform identifier (e.g. "telegram", "vk").
	Name() string
	// Start begins listening for inbound events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// InboundMessage is an event received from an external platform.
// Attachments have already been downloaded into the attachment store.
type InboundMessage struct {
	Platform    string // Connector name (e.g. "telegram")
	ChannelID   string // Configured support-channel identifier
	SenderID    string // Platform-specific sender identifier
	Username    string // Display name, best effort
	Content     string // Message text
	Attachments []protocol.Attachment
}

// InboundHandler processes events received from external platforms.
type InboundHandler func(ctx context.Context, msg InboundMessage) error
