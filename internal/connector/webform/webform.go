// Package webform accepts support requests posted by a website widget.
// Replies produced while handling a request are queued per user and
// returned in the HTTP response, so the widget needs no push channel.
package webform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/deskbot-io/deskbot/internal/connector"
)

// Platform is the identifier used in user keys and dispatch routing.
const Platform = "webform"

// Config holds web-form connector configuration.
type Config struct {
	// Secret for HMAC-SHA256 signature verification (X-Signature-256
	// header). If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
	// ChannelID is the support-channel identifier for settings resolution.
	ChannelID string `json:"channel_id"`
}

// Payload is the expected JSON body for form submissions.
type Payload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// Handler serves form submissions and implements the outbound
// messenger for the webform platform.
type Handler struct {
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger

	mu     sync.Mutex
	outbox map[string][]string
}

// New creates a web-form handler.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger,
		outbox:  make(map[string][]string),
	}
}

func (h *Handler) Name() string { return Platform }

// Platform implements dispatch.Messenger.
func (h *Handler) Platform() string { return Platform }

// Start is a no-op: the handler is mounted on the API server's mux.
func (h *Handler) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Stop implements connector.Connector.
func (h *Handler) Stop() error { return nil }

// SendToUser queues text for delivery in the user's next HTTP response.
func (h *Handler) SendToUser(_ context.Context, userID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outbox[userID] = append(h.outbox[userID], text)
	return nil
}

// SendToSupport is a no-op: the web form has no operator chat.
func (h *Handler) SendToSupport(context.Context, string) error { return nil }

// ServeHTTP handles POST submissions from the website widget.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	inbound := connector.InboundMessage{
		Platform:  Platform,
		ChannelID: h.config.ChannelID,
		SenderID:  payload.UserID,
		Username:  payload.Username,
		Content:   payload.Message,
	}
	if inbound.Username == "" {
		inbound.Username = payload.UserID
	}

	if err := h.handler(r.Context(), inbound); err != nil {
		h.logger.Error("webform handler error", "user", payload.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"replies": h.drain(payload.UserID),
	})
}

func (h *Handler) drain(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	queued := h.outbox[userID]
	delete(h.outbox, userID)
	if queued == nil {
		queued = []string{}
	}
	return queued
}

func (h *Handler) authenticate(r *http.Request, body []byte) bool {
	if h.config.Secret != "" {
		return verifyHMAC(body, h.config.Secret, r.Header.Get("X-Signature-256"))
	}
	if h.config.BearerToken != "" {
		return r.Header.Get("Authorization") == "Bearer "+h.config.BearerToken
	}
	// No auth configured: allow, for development only.
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature of form "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// ComputeSignature generates the signature a widget must send.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
