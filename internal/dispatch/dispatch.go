// Package dispatch selects the outbound messenger for a platform.
// Delivery is best-effort: failures are logged and never roll back the
// state transition that triggered them.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Messenger delivers text to a user or to the platform's support chat.
type Messenger interface {
	Platform() string
	SendToUser(ctx context.Context, userID, text string) error
	SendToSupport(ctx context.Context, text string) error
}

// Registry maps normalized platform identifiers to messengers, with a
// default fallback for unknown platforms.
type Registry struct {
	mu         sync.RWMutex
	messengers map[string]Messenger
	fallback   string
	logger     *slog.Logger
}

// NewRegistry creates an empty dispatch registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		messengers: make(map[string]Messenger),
		logger:     logger,
	}
}

// Register adds a messenger under its normalized platform name. The
// first registered messenger becomes the fallback.
func (r *Registry) Register(m Messenger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := Normalize(m.Platform())
	r.messengers[name] = m
	if r.fallback == "" {
		r.fallback = name
	}
	r.logger.Info("messenger registered", "platform", name)
}

// SetFallback picks which platform handles sends for unknown platforms.
func (r *Registry) SetFallback(platform string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = Normalize(platform)
}

// SendToUser delivers text to a user on a platform. Returns false when
// no messenger exists or delivery failed.
func (r *Registry) SendToUser(ctx context.Context, platform, userID, text string) bool {
	m, ok := r.lookup(platform)
	if !ok {
		r.logger.Warn("no messenger for platform", "platform", platform)
		return false
	}
	if err := m.SendToUser(ctx, userID, text); err != nil {
		r.logger.Error("user delivery failed", "platform", m.Platform(), "user", userID, "error", err)
		return false
	}
	return true
}

// SendToSupport delivers text to a platform's operator/support chat.
func (r *Registry) SendToSupport(ctx context.Context, platform, text string) bool {
	m, ok := r.lookup(platform)
	if !ok {
		r.logger.Warn("no messenger for platform", "platform", platform)
		return false
	}
	if err := m.SendToSupport(ctx, text); err != nil {
		r.logger.Error("support delivery failed", "platform", m.Platform(), "error", err)
		return false
	}
	return true
}

func (r *Registry) lookup(platform string) (Messenger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.messengers[Normalize(platform)]; ok {
		return m, true
	}
	if m, ok := r.messengers[r.fallback]; ok {
		return m, true
	}
	return nil, false
}

// Normalize canonicalizes a platform identifier.
func Normalize(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
