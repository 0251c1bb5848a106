// Package telegram connects the bot to Telegram via long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deskbot-io/deskbot/internal/attach"
	"github.com/deskbot-io/deskbot/internal/connector"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// Platform is the identifier used in user keys and dispatch routing.
const Platform = "telegram"

// Config holds Telegram connector configuration.
type Config struct {
	Token         string // Bot token from @BotFather
	ChannelID     string // Support-channel identifier for settings resolution
	SupportChatID int64  // Operator group chat for relayed messages
}

// Connector implements connector.Connector and the outbound messenger
// for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.InboundHandler
	attach  *attach.Store
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a Telegram connector and verifies the token.
func New(cfg Config, handler connector.InboundHandler, attachments *attach.Store, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		attach:  attachments,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return Platform }

// Platform implements dispatch.Messenger.
func (c *Connector) Platform() string { return Platform }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)
	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			c.handleUpdate(ctx, update.Message)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// SendToUser delivers text to a private chat. In Telegram the private
// chat id equals the user id.
func (c *Connector) SendToUser(_ context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid user id %q: %w", userID, err)
	}
	return c.send(chatID, text)
}

// SendToSupport posts text to the configured operator group chat.
func (c *Connector) SendToSupport(_ context.Context, text string) error {
	if c.config.SupportChatID == 0 {
		return nil
	}
	return c.send(c.config.SupportChatID, text)
}

func (c *Connector) send(chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, msg *tgbotapi.Message) {
	// Messages from the operator group are not user traffic.
	if msg.Chat.ID == c.config.SupportChatID || !msg.Chat.IsPrivate() {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if msg.IsCommand() {
		text = "/" + msg.Command()
		if msg.CommandArguments() != "" {
			text += " " + msg.CommandArguments()
		}
	}

	attachments := c.downloadAttachments(msg)
	if text == "" && len(attachments) == 0 {
		return
	}

	c.bot.Send(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))

	inbound := connector.InboundMessage{
		Platform:    Platform,
		ChannelID:   c.config.ChannelID,
		SenderID:    strconv.FormatInt(msg.From.ID, 10),
		Username:    displayName(msg.From),
		Content:     text,
		Attachments: attachments,
	}
	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("inbound handler error", "chat_id", msg.Chat.ID, "error", err)
	}
}

// downloadAttachments pulls media referenced by the update into the
// local attachment store. Failures are logged and skipped so the text
// part of the message still goes through.
func (c *Connector) downloadAttachments(msg *tgbotapi.Message) []protocol.Attachment {
	var out []protocol.Attachment

	save := func(kind protocol.AttachmentKind, fileID, ext string) {
		stored, err := c.downloadFile(fileID, ext)
		if err != nil {
			c.logger.Error("attachment download failed", "kind", kind, "error", err)
			return
		}
		out = append(out, protocol.Attachment{Kind: kind, Path: stored})
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		save(protocol.AttachmentPhoto, largest.FileID, "jpg")
	}
	if msg.Document != nil {
		save(protocol.AttachmentDocument, msg.Document.FileID, path.Ext(msg.Document.FileName))
	}
	if msg.Voice != nil {
		save(protocol.AttachmentAudio, msg.Voice.FileID, "ogg")
	}
	if msg.Audio != nil {
		save(protocol.AttachmentAudio, msg.Audio.FileID, "mp3")
	}
	if msg.Video != nil {
		save(protocol.AttachmentVideo, msg.Video.FileID, "mp4")
	}
	return out
}

func (c *Connector) downloadFile(fileID, ext string) (string, error) {
	url, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("telegram: resolve file url: %w", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("telegram: fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telegram: fetch file: unexpected status %d", resp.StatusCode)
	}
	return c.attach.Save(c.config.ChannelID, ext, resp.Body)
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
