package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	apiPkg "github.com/deskbot-io/deskbot/internal/api"
	"github.com/deskbot-io/deskbot/internal/attach"
	"github.com/deskbot-io/deskbot/internal/blocklist"
	"github.com/deskbot-io/deskbot/internal/config"
	"github.com/deskbot-io/deskbot/internal/connector/telegram"
	"github.com/deskbot-io/deskbot/internal/connector/vk"
	"github.com/deskbot-io/deskbot/internal/connector/webform"
	"github.com/deskbot-io/deskbot/internal/conversation"
	"github.com/deskbot-io/deskbot/internal/dispatch"
	"github.com/deskbot-io/deskbot/internal/engine"
	"github.com/deskbot-io/deskbot/internal/feedback"
	"github.com/deskbot-io/deskbot/internal/lifecycle"
	"github.com/deskbot-io/deskbot/internal/logbuf"
	"github.com/deskbot-io/deskbot/internal/notify"
	"github.com/deskbot-io/deskbot/internal/scheduler"
	"github.com/deskbot-io/deskbot/internal/session"
	"github.com/deskbot-io/deskbot/internal/settings"
	"github.com/deskbot-io/deskbot/internal/store"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

func main() {
	godotenv.Load()

	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("deskbotd starting", "data_dir", cfg.Core.DataDir)

	// 1. Storage
	os.MkdirAll(cfg.Core.DataDir, 0o755)
	st, err := store.Open(cfg.Core.DataDir + "/deskbot.db")
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	for _, ch := range cfg.Channels {
		err := st.UpsertChannel(protocol.Channel{
			ID:       ch.ID,
			Platform: ch.Platform,
			Title:    ch.Title,
			Settings: ch.Settings,
		})
		if err != nil {
			logger.Error("failed to seed channel", "channel", ch.ID, "error", err)
			os.Exit(1)
		}
	}

	// 2. Domain components
	resolver := settings.NewResolver(st)
	sessions := session.NewRegistry()
	conv := conversation.New(logger.With("component", "conversation"))
	disp := dispatch.NewRegistry(logger.With("component", "dispatch"))
	attachments := attach.NewStore(cfg.Core.AttachDir)
	gate := blocklist.New(st, logger.With("component", "blocklist"))
	fb := feedback.New(st, resolver, cfg.FeedbackTTL(), logger.With("component", "feedback"))
	lc := lifecycle.New(st, fb, logger.With("component", "lifecycle"))

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.SlackToken != "" {
		slackNotifier, err := notify.NewSlack(cfg.Notify.SlackToken, cfg.Notify.SlackChannel, logger.With("component", "notify"))
		if err != nil {
			logger.Error("failed to init slack notifier", "error", err)
			os.Exit(1)
		}
		notifier = slackNotifier
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Closing and reopening tell the user; the rating prompt itself is
	// delivered by the feedback send job once the close is committed.
	lc.OnClosed = func(t *protocol.Ticket, source string) {
		platform, userID := protocol.SplitUserKey(t.UserKey)
		text := fmt.Sprintf("Your ticket #%d has been closed.", t.Ref)
		if source == protocol.SourceInactivity {
			text = fmt.Sprintf("Your ticket #%d was closed due to inactivity. Write to us if the problem persists.", t.Ref)
		}
		disp.SendToUser(ctx, platform, userID, text)
	}
	lc.OnReopened = func(t *protocol.Ticket) {
		platform, userID := protocol.SplitUserKey(t.UserKey)
		disp.SendToUser(ctx, platform, userID,
			fmt.Sprintf("Your ticket #%d has been reopened. An operator will contact you.", t.Ref))
	}

	// 3. Inbound pipeline
	eng := engine.New(engine.Config{
		Store:           st,
		Sessions:        sessions,
		Conversation:    conv,
		Lifecycle:       lc,
		Feedback:        fb,
		Gate:            gate,
		Settings:        resolver,
		Dispatch:        disp,
		Notifier:        notifier,
		UnblockCooldown: cfg.UnblockCooldown(),
		Logger:          logger.With("component", "engine"),
	})

	// 4. Connectors
	if cfg.Connectors.Telegram != nil {
		tg, err := telegram.New(telegram.Config{
			Token:         cfg.Connectors.Telegram.Token,
			ChannelID:     cfg.Connectors.Telegram.ChannelID,
			SupportChatID: cfg.Connectors.Telegram.SupportChatID,
		}, eng.HandleInbound, attachments, logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		disp.Register(tg)
		go safeGo(logger, "telegram", func() { tg.Start(ctx) })
	}

	if cfg.Connectors.VK != nil {
		vkConn, err := vk.New(vk.Config{
			Token:         cfg.Connectors.VK.Token,
			ChannelID:     cfg.Connectors.VK.ChannelID,
			SupportPeerID: cfg.Connectors.VK.SupportPeerID,
		}, eng.HandleInbound, attachments, logger.With("connector", "vk"))
		if err != nil {
			logger.Error("failed to init vk connector", "error", err)
			os.Exit(1)
		}
		disp.Register(vkConn)
		go safeGo(logger, "vk", func() { vkConn.Start(ctx) })
	}

	extra := map[string]http.Handler{}
	if cfg.Connectors.Webform != nil {
		wf := webform.New(webform.Config{
			Secret:      cfg.Connectors.Webform.Secret,
			BearerToken: cfg.Connectors.Webform.BearerToken,
			ChannelID:   cfg.Connectors.Webform.ChannelID,
		}, eng.HandleInbound, logger.With("connector", "webform"))
		disp.Register(wf)
		extra["POST /api/webform"] = wf
	}

	// 5. Maintenance jobs
	sched := scheduler.New(logger.With("component", "scheduler"))
	registerJob := func(name, schedule string, fn scheduler.JobFunc) {
		if err := sched.Register(name, schedule, fn); err != nil {
			logger.Error("failed to register job", "job", name, "error", err)
			os.Exit(1)
		}
	}
	registerJob("idle-sweep", cfg.Schedules.IdleSweep, func(context.Context) error {
		_, err := lc.CloseInactive(cfg.IdleClose())
		return err
	})
	registerJob("feedback-send", cfg.Schedules.FeedbackSend, func(jobCtx context.Context) error {
		_, err := fb.SendPending(
			func(req *protocol.FeedbackRequest) string {
				t, found, err := lc.Get(req.TicketID)
				if err != nil || !found {
					return ""
				}
				rating, err := resolver.RatingFor(req.ChannelID)
				if err != nil {
					return ""
				}
				return rating.PromptFor(t.Ref)
			},
			func(userKey, text string) bool {
				platform, userID := protocol.SplitUserKey(userKey)
				return disp.SendToUser(jobCtx, platform, userID, text)
			},
		)
		return err
	})
	registerJob("feedback-digest", cfg.Schedules.FeedbackDigest, func(jobCtx context.Context) error {
		digest, err := fb.BuildDigest(24 * time.Hour)
		if err != nil {
			return err
		}
		return notifier.Notify(jobCtx, digest.String())
	})
	registerJob("session-prune", cfg.Schedules.SessionPrune, func(context.Context) error {
		if n := sessions.PruneIdle(cfg.SessionIdle(), time.Now()); n > 0 {
			logger.Info("pruned idle sessions", "count", n)
		}
		return nil
	})
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 6. API server
	svc := apiPkg.NewService(st, lc, fb, gate, disp)
	apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf, extra)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("deskbotd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
