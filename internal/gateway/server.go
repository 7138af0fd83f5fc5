// ABOUTME: HTTP server wiring for the intake gateway
// ABOUTME: Webhook intake, operator API, push stream, health, and metrics routes

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/auth"
	"github.com/Courtneyezra/handyservices-gateway/internal/config"
	"github.com/Courtneyezra/handyservices-gateway/internal/dedupe"
	"github.com/Courtneyezra/handyservices-gateway/internal/metrics"
	"github.com/Courtneyezra/handyservices-gateway/internal/store"
)

const (
	// dedupeTTL bounds how long redelivered webhook ids are remembered.
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 10000

	conversationListLimit = 200
	messageHistoryLimit   = 500
)

// WhatsAppSender is the outbound surface of the external messaging
// gateway; satisfied by wagateway.Client.
type WhatsAppSender interface {
	Send(ctx context.Context, to, message string) (string, error)
}

// Server owns the intake gateway's HTTP surface and its collaborators.
type Server struct {
	store    store.Store
	hub      *Hub
	wa       WhatsAppSender
	cfg      *config.Config
	seen     *dedupe.Cache
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewServer wires the gateway together.
func NewServer(st store.Store, hub *Hub, wa WhatsAppSender, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		hub:      hub,
		wa:       wa,
		cfg:      cfg,
		seen:     dedupe.New(dedupeTTL, dedupeMaxSize),
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:   logger.With("component", "gateway"),
	}
}

// Routes returns the gateway's handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/whatsapp", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, metrics.Handler())
	}

	authed := auth.Middleware(s.verifier)
	mux.Handle("GET /ws", authed(http.HandlerFunc(s.handleWS)))
	mux.Handle("POST /api/messages/send", authed(http.HandlerFunc(s.handleSend)))
	mux.Handle("POST /api/conversations/{id}/read", authed(http.HandlerFunc(s.handleMarkRead)))
	mux.Handle("POST /api/conversations/{id}/stage", authed(http.HandlerFunc(s.handleStage)))
	mux.Handle("GET /api/conversations", authed(http.HandlerFunc(s.handleListConversations)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
