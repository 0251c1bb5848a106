// Package api exposes the operator REST API: tickets, feedback,
// blacklist and the in-memory log ring.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deskbot-io/deskbot/internal/feedback"
	"github.com/deskbot-io/deskbot/internal/logbuf"
	"github.com/deskbot-io/deskbot/internal/store"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, limit int) []logbuf.Entry
}

// DeskService is the interface the API server needs from the bot core.
type DeskService interface {
	ListTickets(filter store.TicketFilter) ([]*protocol.Ticket, error)
	GetTicket(id string) (*protocol.Ticket, bool, error)
	CloseTicket(id, resolvedBy string) (*protocol.Ticket, bool, error)
	ReopenTicket(id string) (*protocol.Ticket, bool, error)
	TicketHistory(ticketID string) ([]protocol.ChatEvent, error)

	ListFeedback(since time.Time) ([]*protocol.Feedback, error)
	FeedbackDigest(window time.Duration) (feedback.Digest, error)

	ListBlacklist() ([]protocol.BlacklistEntry, error)
	Block(userKey string) error
	Unblock(userKey string) error
	ListUnblockRequests(status string, limit int) ([]*protocol.UnblockRequest, error)
	DecideUnblock(id string, approve bool, decidedBy, comment string) (*protocol.UnblockRequest, bool, error)
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the operator REST API server.
type Server struct {
	svc    DeskService
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates the API server. logs may be nil; extra maps URL
// prefixes to additional handlers (the web-form endpoint) and may be nil.
func NewServer(svc DeskService, cfg Config, logger *slog.Logger, logs LogQuerier, extra map[string]http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("GET /api/tickets/{id}/history", s.requireAuth(s.handleTicketHistory))
	mux.HandleFunc("POST /api/tickets/{id}/close", s.requireAuth(s.handleCloseTicket))
	mux.HandleFunc("POST /api/tickets/{id}/reopen", s.requireAuth(s.handleReopenTicket))
	mux.HandleFunc("GET /api/feedback", s.requireAuth(s.handleListFeedback))
	mux.HandleFunc("GET /api/feedback/digest", s.requireAuth(s.handleFeedbackDigest))
	mux.HandleFunc("GET /api/blacklist", s.requireAuth(s.handleListBlacklist))
	mux.HandleFunc("POST /api/blacklist/block", s.requireAuth(s.handleBlock))
	mux.HandleFunc("POST /api/blacklist/unblock", s.requireAuth(s.handleUnblock))
	mux.HandleFunc("GET /api/unblock-requests", s.requireAuth(s.handleListUnblockRequests))
	mux.HandleFunc("POST /api/unblock-requests/{id}/decide", s.requireAuth(s.handleDecideUnblock))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	for prefix, h := range extra {
		mux.Handle(prefix, h)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Tickets ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	filter := store.TicketFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = protocol.TicketStatus(status)
	}
	if user := r.URL.Query().Get("user"); user != "" {
		filter.UserKey = user
	}
	if channel := r.URL.Query().Get("channel"); channel != "" {
		filter.Channel = channel
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}

	tickets, err := s.svc.ListTickets(filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, found, err := s.svc.GetTicket(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTicketHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.TicketHistory(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []protocol.ChatEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type closeTicketRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	var req closeTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ResolvedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resolved_by is required"})
		return
	}

	t, found, err := s.svc.CloseTicket(r.PathValue("id"), req.ResolvedBy)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "ticket missing or already closed"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReopenTicket(w http.ResponseWriter, r *http.Request) {
	t, found, err := s.svc.ReopenTicket(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "ticket missing or already open"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Feedback ---

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	list, err := s.svc.ListFeedback(since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*protocol.Feedback{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleFeedbackDigest(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "window must be a positive duration"})
			return
		}
		window = d
	}

	digest, err := s.svc.FeedbackDigest(window)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

// --- Blacklist ---

func (s *Server) handleListBlacklist(w http.ResponseWriter, _ *http.Request) {
	list, err := s.svc.ListBlacklist()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []protocol.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

type blacklistRequest struct {
	UserKey string `json:"user_key"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	s.handleBlacklistChange(w, r, s.svc.Block)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	s.handleBlacklistChange(w, r, s.svc.Unblock)
}

func (s *Server) handleBlacklistChange(w http.ResponseWriter, r *http.Request, apply func(string) error) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.UserKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_key is required"})
		return
	}
	if err := apply(req.UserKey); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user_key": req.UserKey})
}

// --- Unblock requests ---

func (s *Server) handleListUnblockRequests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	list, err := s.svc.ListUnblockRequests(r.URL.Query().Get("status"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*protocol.UnblockRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

type decideRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by"`
	Comment   string `json:"comment,omitempty"`
}

func (s *Server) handleDecideUnblock(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.DecidedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decided_by is required"})
		return
	}

	decided, found, err := s.svc.DecideUnblock(r.PathValue("id"), req.Approve, req.DecidedBy, req.Comment)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "request missing or already decided"})
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

// --- Logs ---

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
