// Package vk connects the bot to VK communities via Bots Long Poll.
package vk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/events"
	longpoll "github.com/SevereCloud/vksdk/v2/longpoll-bot"
	"github.com/SevereCloud/vksdk/v2/object"

	"github.com/deskbot-io/deskbot/internal/attach"
	"github.com/deskbot-io/deskbot/internal/connector"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Platform is the identifier used in user keys and dispatch routing.
const Platform = "vk"

// Config holds VK connector configuration.
type Config struct {
	Token         string // Community access token
	ChannelID     string // Support-channel identifier for settings resolution
	SupportPeerID int    // Operator chat peer id (2000000000+N for group chats)
}

// Connector implements connector.Connector and the outbound messenger
// for VK.
type Connector struct {
	vk      *api.VK
	lp      *longpoll.LongPoll
	config  Config
	handler connector.InboundHandler
	attach  *attach.Store
	logger  *slog.Logger
}

// New creates a VK connector bound to the token's community.
func New(cfg Config, handler connector.InboundHandler, attachments *attach.Store, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vk := api.NewVK(cfg.Token)
	groups, err := vk.GroupsGetByID(nil)
	if err != nil {
		return nil, fmt.Errorf("vk: resolve community: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("vk: token is not bound to a community")
	}

	lp, err := longpoll.NewLongPoll(vk, groups[0].ID)
	if err != nil {
		return nil, fmt.Errorf("vk: init long poll: %w", err)
	}

	c := &Connector{
		vk:      vk,
		lp:      lp,
		config:  cfg,
		handler: handler,
		attach:  attachments,
		logger:  logger,
	}
	lp.MessageNew(c.onMessageNew)

	logger.Info("vk connector authorized", "group", groups[0].Name, "group_id", groups[0].ID)
	return c, nil
}

func (c *Connector) Name() string { return Platform }

// Platform implements dispatch.Messenger.
func (c *Connector) Platform() string { return Platform }

// Start begins the Bots Long Poll loop. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.lp.Shutdown()
	}()

	c.logger.Info("vk connector started")
	if err := c.lp.Run(); err != nil {
		return fmt.Errorf("vk: long poll: %w", err)
	}
	return ctx.Err()
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	c.lp.Shutdown()
	return nil
}

// SendToUser delivers text to a private dialog. The peer id of a
// private dialog equals the user id.
func (c *Connector) SendToUser(_ context.Context, userID, text string) error {
	peer, err := strconv.Atoi(userID)
	if err != nil {
		return fmt.Errorf("vk: invalid user id %q: %w", userID, err)
	}
	return c.send(peer, text)
}

// SendToSupport posts text to the configured operator chat.
func (c *Connector) SendToSupport(_ context.Context, text string) error {
	if c.config.SupportPeerID == 0 {
		return nil
	}
	return c.send(c.config.SupportPeerID, text)
}

func (c *Connector) send(peerID int, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := c.vk.MessagesSend(api.Params{
		"peer_id":   peerID,
		"message":   text,
		"random_id": 0,
	})
	if err != nil {
		return fmt.Errorf("vk: send: %w", err)
	}
	return nil
}

func (c *Connector) onMessageNew(ctx context.Context, obj events.MessageNewObject) {
	msg := obj.Message

	// Only private dialogs feed the question flow.
	if msg.PeerID != msg.FromID || msg.FromID <= 0 {
		return
	}

	inbound := connector.InboundMessage{
		Platform:    Platform,
		ChannelID:   c.config.ChannelID,
		SenderID:    strconv.Itoa(msg.FromID),
		Username:    c.resolveName(msg.FromID),
		Content:     msg.Text,
		Attachments: c.downloadAttachments(msg.Attachments),
	}
	if inbound.Content == "" && len(inbound.Attachments) == 0 {
		return
	}

	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("inbound handler error", "peer_id", msg.PeerID, "error", err)
	}
}

func (c *Connector) resolveName(userID int) string {
	users, err := c.vk.UsersGet(api.Params{"user_ids": userID})
	if err != nil || len(users) == 0 {
		return strconv.Itoa(userID)
	}
	return strings.TrimSpace(users[0].FirstName + " " + users[0].LastName)
}

// downloadAttachments pulls message media into the local attachment
// store. Failures are logged and skipped.
func (c *Connector) downloadAttachments(atts []object.MessagesMessageAttachment) []protocol.Attachment {
	var out []protocol.Attachment

	save := func(kind protocol.AttachmentKind, url, ext string) {
		if url == "" {
			return
		}
		stored, err := c.downloadURL(url, ext)
		if err != nil {
			c.logger.Error("attachment download failed", "kind", kind, "error", err)
			return
		}
		out = append(out, protocol.Attachment{Kind: kind, Path: stored})
	}

	for _, a := range atts {
		switch a.Type {
		case "photo":
			save(protocol.AttachmentPhoto, a.Photo.MaxSize().URL, "jpg")
		case "doc":
			save(protocol.AttachmentDocument, a.Doc.URL, a.Doc.Ext)
		case "audio_message":
			save(protocol.AttachmentAudio, a.AudioMessage.LinkOgg, "ogg")
		case "video":
			// Video files are not directly downloadable; keep the reference.
			out = append(out, protocol.Attachment{
				Kind: protocol.AttachmentVideo,
				Path: fmt.Sprintf("vk://video%d_%d", a.Video.OwnerID, a.Video.ID),
			})
		}
	}
	return out
}

func (c *Connector) downloadURL(url, ext string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("vk: fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vk: fetch file: unexpected status %d", resp.StatusCode)
	}
	return c.attach.Save(c.config.ChannelID, ext, resp.Body)
}
