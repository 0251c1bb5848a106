// Package config loads daemon configuration from a JSON file or from
// DESKBOT_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level deskbot configuration.
type Config struct {
	Core       CoreConfig      `json:"core"`
	Channels   []ChannelConfig `json:"channels"`
	Connectors ConnectorConfig `json:"connectors"`
	Notify     NotifyConfig    `json:"notify"`
	Schedules  ScheduleConfig  `json:"schedules"`
	API        APIConfig       `json:"api"`
}

// CoreConfig holds bot-level settings.
type CoreConfig struct {
	DataDir   string `json:"data_dir"`
	AttachDir string `json:"attach_dir,omitempty"` // default {data_dir}/attachments

	UnblockCooldownHours int `json:"unblock_cooldown_hours,omitempty"` // default 24
	FeedbackTTLHours     int `json:"feedback_ttl_hours,omitempty"`     // default 24
	IdleCloseHours       int `json:"idle_close_hours,omitempty"`       // default 48
	SessionIdleMinutes   int `json:"session_idle_minutes,omitempty"`   // default 60
}

// ChannelConfig describes one support channel and its question-flow and
// rating settings (raw JSON, decoded by the settings resolver).
type ChannelConfig struct {
	ID       string          `json:"id"`
	Platform string          `json:"platform"`
	Title    string          `json:"title,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// ConnectorConfig holds settings for external platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	VK       *VKConfig       `json:"vk,omitempty"`
	Webform  *WebformConfig  `json:"webform,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token         string `json:"token"`
	ChannelID     string `json:"channel_id"`
	SupportChatID int64  `json:"support_chat_id,omitempty"`
}

// VKConfig holds VK community bot settings.
type VKConfig struct {
	Token         string `json:"token"`
	ChannelID     string `json:"channel_id"`
	SupportPeerID int    `json:"support_peer_id,omitempty"`
}

// WebformConfig holds website widget settings.
type WebformConfig struct {
	Secret      string `json:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
	ChannelID   string `json:"channel_id"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	SlackToken   string `json:"slack_token,omitempty"`
	SlackChannel string `json:"slack_channel,omitempty"`
}

// ScheduleConfig holds cron expressions for the maintenance jobs.
type ScheduleConfig struct {
	IdleSweep      string `json:"idle_sweep,omitempty"`      // default @every 10m
	FeedbackSend   string `json:"feedback_send,omitempty"`   // default @every 5m
	FeedbackDigest string `json:"feedback_digest,omitempty"` // default 0 9 * * *
	SessionPrune   string `json:"session_prune,omitempty"`   // default @every 15m
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with DESKBOT_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Core: CoreConfig{
			DataDir:              getenv("DESKBOT_DATA_DIR", "/data"),
			UnblockCooldownHours: getenvInt("DESKBOT_UNBLOCK_COOLDOWN_HOURS", 0),
			FeedbackTTLHours:     getenvInt("DESKBOT_FEEDBACK_TTL_HOURS", 0),
			IdleCloseHours:       getenvInt("DESKBOT_IDLE_CLOSE_HOURS", 0),
			SessionIdleMinutes:   getenvInt("DESKBOT_SESSION_IDLE_MINUTES", 0),
		},
		Notify: NotifyConfig{
			SlackToken:   os.Getenv("DESKBOT_SLACK_TOKEN"),
			SlackChannel: os.Getenv("DESKBOT_SLACK_CHANNEL"),
		},
		API: APIConfig{
			Host: getenv("DESKBOT_API_HOST", "0.0.0.0"),
			Port: getenvInt("DESKBOT_API_PORT", 8080),
			Key:  os.Getenv("DESKBOT_API_KEY"),
		},
	}

	if token := os.Getenv("DESKBOT_TELEGRAM_TOKEN"); token != "" {
		chatID, err := parseInt64(os.Getenv("DESKBOT_TELEGRAM_SUPPORT_CHAT_ID"))
		if err != nil {
			return nil, fmt.Errorf("config: DESKBOT_TELEGRAM_SUPPORT_CHAT_ID: %w", err)
		}
		cfg.Connectors.Telegram = &TelegramConfig{
			Token:         token,
			ChannelID:     getenv("DESKBOT_TELEGRAM_CHANNEL_ID", "telegram"),
			SupportChatID: chatID,
		}
	}

	if token := os.Getenv("DESKBOT_VK_TOKEN"); token != "" {
		cfg.Connectors.VK = &VKConfig{
			Token:         token,
			ChannelID:     getenv("DESKBOT_VK_CHANNEL_ID", "vk"),
			SupportPeerID: getenvInt("DESKBOT_VK_SUPPORT_PEER_ID", 0),
		}
	}

	if os.Getenv("DESKBOT_WEBFORM_SECRET") != "" || os.Getenv("DESKBOT_WEBFORM_TOKEN") != "" {
		cfg.Connectors.Webform = &WebformConfig{
			Secret:      os.Getenv("DESKBOT_WEBFORM_SECRET"),
			BearerToken: os.Getenv("DESKBOT_WEBFORM_TOKEN"),
			ChannelID:   getenv("DESKBOT_WEBFORM_CHANNEL_ID", "webform"),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Core.AttachDir == "" && c.Core.DataDir != "" {
		c.Core.AttachDir = c.Core.DataDir + "/attachments"
	}
	if c.Core.UnblockCooldownHours == 0 {
		c.Core.UnblockCooldownHours = 24
	}
	if c.Core.FeedbackTTLHours == 0 {
		c.Core.FeedbackTTLHours = 24
	}
	if c.Core.IdleCloseHours == 0 {
		c.Core.IdleCloseHours = 48
	}
	if c.Core.SessionIdleMinutes == 0 {
		c.Core.SessionIdleMinutes = 60
	}
	if c.Schedules.IdleSweep == "" {
		c.Schedules.IdleSweep = "@every 10m"
	}
	if c.Schedules.FeedbackSend == "" {
		c.Schedules.FeedbackSend = "@every 5m"
	}
	if c.Schedules.FeedbackDigest == "" {
		c.Schedules.FeedbackDigest = "0 9 * * *"
	}
	if c.Schedules.SessionPrune == "" {
		c.Schedules.SessionPrune = "@every 15m"
	}

	// A connector without an explicit channel falls back to a channel
	// named after its platform.
	if len(c.Channels) == 0 {
		if c.Connectors.Telegram != nil {
			c.Channels = append(c.Channels, ChannelConfig{ID: c.Connectors.Telegram.ChannelID, Platform: "telegram"})
		}
		if c.Connectors.VK != nil {
			c.Channels = append(c.Channels, ChannelConfig{ID: c.Connectors.VK.ChannelID, Platform: "vk"})
		}
		if c.Connectors.Webform != nil {
			c.Channels = append(c.Channels, ChannelConfig{ID: c.Connectors.Webform.ChannelID, Platform: "webform"})
		}
	}
}

// UnblockCooldown returns the cooldown between unblock requests.
func (c *Config) UnblockCooldown() time.Duration {
	return time.Duration(c.Core.UnblockCooldownHours) * time.Hour
}

// FeedbackTTL returns how long a rating request stays answerable.
func (c *Config) FeedbackTTL() time.Duration {
	return time.Duration(c.Core.FeedbackTTLHours) * time.Hour
}

// IdleClose returns the inactivity threshold for the auto-close sweep.
func (c *Config) IdleClose() time.Duration {
	return time.Duration(c.Core.IdleCloseHours) * time.Hour
}

// SessionIdle returns the max age of an abandoned conversation session.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.Core.SessionIdleMinutes) * time.Minute
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Core.DataDir == "" {
		errs = append(errs, "core.data_dir is required")
	}

	if c.Connectors.Telegram == nil && c.Connectors.VK == nil && c.Connectors.Webform == nil {
		errs = append(errs, "at least one connector is required")
	}
	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if c.Connectors.VK != nil && c.Connectors.VK.Token == "" {
		errs = append(errs, "connectors.vk.token is required")
	}

	seen := make(map[string]bool)
	for i, ch := range c.Channels {
		if ch.ID == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].id is required", i))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Sprintf("channels[%d].id %q is duplicated", i, ch.ID))
		}
		seen[ch.ID] = true
		if ch.Platform == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].platform is required", i))
		}
	}

	if c.Notify.SlackToken != "" && c.Notify.SlackChannel == "" {
		errs = append(errs, "notify.slack_channel is required when notify.slack_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
