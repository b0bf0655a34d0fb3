// Package gateway exposes the HTTP and websocket surface: session minting,
// the chat socket, health, the active-session listing and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/session"
)

// Server is the HTTP front of the runtime.
type Server struct {
	cfg       *config.Config
	log       *observability.Logger
	manager   *session.Manager
	http      *http.Server
	startTime time.Time
}

// NewServer wires the routes. Call Listen to serve.
func NewServer(cfg *config.Config, log *observability.Logger, manager *session.Manager) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log.WithFields("component", "gateway"),
		manager:   manager,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", s.handleCreateSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /ws/chat/{session_id}", s.handleChatSocket)
	mux.Handle("GET "+cfg.Server.MetricsPath, promhttp.Handler())

	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.HTTPPort)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen() error {
	s.log.Info(context.Background(), "gateway listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// handleCreateSession mints a session id. The session itself is created
// when the websocket connects with the id.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"session_id": uuid.NewString()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime_ms": time.Since(s.startTime).Milliseconds(),
		"sessions":  len(s.manager.Sessions()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.manager.Sessions()
	if infos == nil {
		infos = []session.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
