// Package session binds client channels to agent sessions: connection and
// reconnection, turn serialization, reset, disconnect grace periods and the
// periodic sweep of expired sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/hooks"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

var (
	// ErrSessionBroken marks a session whose reset failed; every operation
	// on it errors until the client starts a new session.
	ErrSessionBroken = errors.New("session is broken")

	// ErrBusy rejects a chat while a turn is running.
	ErrBusy = errors.New("a message is already being processed")
)

// Channel is the client-facing half of a connection; the gateway implements
// it over a websocket.
type Channel interface {
	Send(e models.Envelope) error
}

// AgentSession is the slice of the agent the manager drives. Satisfied by
// *agent.Session; tests substitute fakes.
type AgentSession interface {
	Initialize(ctx context.Context) error
	Chat(ctx context.Context, text string) (<-chan models.Envelope, error)
	Cleanup(ctx context.Context)
	CreatedAt() time.Time
}

// Factory builds the agent for a session id.
type Factory func(sessionID string) (AgentSession, error)

// DefaultFactory builds real agent sessions from the server configuration.
func DefaultFactory(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, audit *hooks.AuditStore, catalog string) Factory {
	return func(sessionID string) (AgentSession, error) {
		return agent.NewSession(agent.Options{
			Config:         cfg,
			SessionID:      sessionID,
			Log:            log,
			Metrics:        metrics,
			Audit:          audit,
			CuratedCatalog: catalog,
		})
	}
}

type session struct {
	id    string
	agent AgentSession

	// turnMu serializes chat turns and reset. Acquired non-blocking; a
	// losing caller gets a busy error, never a queue slot.
	turnMu sync.Mutex

	// sendMu orders every write to the client channel.
	sendMu  sync.Mutex
	channel Channel

	cleanupTimer *time.Timer
	broken       bool
}

// Manager owns the session table.
type Manager struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
	factory Factory

	// mu guards the table only; per-session work runs under the session's
	// own locks so one slow session cannot stall the rest.
	mu       sync.Mutex
	sessions map[string]*session

	cron *cron.Cron
}

// NewManager builds a manager. Call Start to begin the periodic sweep.
func NewManager(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, factory Factory) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log.WithFields("component", "session-manager"),
		metrics:  metrics,
		factory:  factory,
		sessions: make(map[string]*session),
		cron:     cron.New(),
	}
}

// Start launches the expired-session sweep on the configured schedule.
func (m *Manager) Start() error {
	_, err := m.cron.AddFunc(m.cfg.Session.SweepSchedule, m.sweep)
	if err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	m.cron.Start()
	return nil
}

// Stop halts the sweep and cleans up every session.
func (m *Manager) Stop(ctx context.Context) {
	m.cron.Stop()

	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range all {
		if s.cleanupTimer != nil {
			s.cleanupTimer.Stop()
		}
		s.agent.Cleanup(ctx)
	}
}

// Connect binds a channel to a session. A new session constructs and
// initializes its agent before the first envelope is written; when the
// agent fails to initialize, no envelope is written at all and the caller
// closes the channel. Reconnecting reuses the live agent and cancels any
// pending cleanup.
func (m *Manager) Connect(ctx context.Context, sessionID string, ch Channel) error {
	m.mu.Lock()
	s, exists := m.sessions[sessionID]
	m.mu.Unlock()

	if exists {
		s.sendMu.Lock()
		if s.broken {
			s.sendMu.Unlock()
			return ErrSessionBroken
		}
		if s.cleanupTimer != nil {
			s.cleanupTimer.Stop()
			s.cleanupTimer = nil
		}
		s.channel = ch
		err := ch.Send(models.Envelope{
			Type:        models.EnvelopeConnection,
			SessionID:   sessionID,
			Reconnected: true,
		})
		s.sendMu.Unlock()
		m.log.Info(ctx, "session reconnected", "session_id", sessionID)
		return err
	}

	ag, err := m.factory(sessionID)
	if err != nil {
		return fmt.Errorf("construct agent: %w", err)
	}
	if err := ag.Initialize(ctx); err != nil {
		ag.Cleanup(ctx)
		return fmt.Errorf("initialize agent: %w", err)
	}

	s = &session{id: sessionID, agent: ag, channel: ch}
	m.mu.Lock()
	if _, raced := m.sessions[sessionID]; raced {
		m.mu.Unlock()
		ag.Cleanup(ctx)
		return fmt.Errorf("session %s already connecting", sessionID)
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}

	s.sendMu.Lock()
	err = ch.Send(models.Envelope{
		Type:      models.EnvelopeConnection,
		SessionID: sessionID,
	})
	s.sendMu.Unlock()
	m.log.Info(ctx, "session connected", "session_id", sessionID)
	return err
}

// Receive handles one inbound client message.
func (m *Manager) Receive(ctx context.Context, sessionID string, raw []byte) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.send(s, models.ErrorEnvelope("unrecognized message"))
		return nil
	}

	switch msg.Type {
	case models.ClientPing:
		m.send(s, models.Envelope{Type: models.EnvelopePong})
		return nil
	case models.ClientChat:
		return m.chat(ctx, s, msg.Message)
	case models.ClientReset:
		return m.reset(ctx, s)
	default:
		m.send(s, models.ErrorEnvelope(fmt.Sprintf("unknown message type %q", msg.Type)))
		return nil
	}
}

func (m *Manager) chat(ctx context.Context, s *session, text string) error {
	if !s.turnMu.TryLock() {
		// Busy rejection changes nothing; the running turn is untouched.
		m.send(s, models.ErrorEnvelope("still working on the previous message"))
		if m.metrics != nil {
			m.metrics.TurnCounter.WithLabelValues("busy").Inc()
		}
		return nil
	}

	// The ack reaches the client before any envelope of this turn.
	m.send(s, models.Envelope{Type: models.EnvelopeChatReceived, Message: "processing"})

	stream, err := s.agent.Chat(observability.WithSessionID(context.WithoutCancel(ctx), s.id), text)
	if err != nil {
		s.turnMu.Unlock()
		if errors.Is(err, agent.ErrTurnInProgress) {
			m.send(s, models.ErrorEnvelope("still working on the previous message"))
			return nil
		}
		m.send(s, models.ErrorEnvelope("the agent is unavailable"))
		return err
	}

	go func() {
		defer s.turnMu.Unlock()
		for e := range stream {
			m.send(s, e)
		}
	}()
	return nil
}

// reset tears the agent down and builds a fresh one for the same session
// id. Rejected while a turn is running. A failed rebuild marks the session
// broken.
func (m *Manager) reset(ctx context.Context, s *session) error {
	if !s.turnMu.TryLock() {
		m.send(s, models.ErrorEnvelope("cannot reset while a message is being processed"))
		return nil
	}
	defer s.turnMu.Unlock()

	s.agent.Cleanup(ctx)
	// Teardown retains workspaces for inspection; a reset starts over from
	// a clean scaffold, so drop the old tree before rebuilding.
	if err := os.RemoveAll(filepath.Join(m.cfg.Sandbox.Root, s.id)); err != nil {
		m.log.Warn(ctx, "workspace removal failed", "session_id", s.id, "error", err)
	}

	ag, err := m.factory(s.id)
	if err == nil {
		err = ag.Initialize(ctx)
	}
	if err != nil {
		s.sendMu.Lock()
		s.broken = true
		s.sendMu.Unlock()
		m.log.Error(ctx, "session reset failed", "session_id", s.id, "error", err)
		m.send(s, models.ErrorEnvelope("reset failed; start a new session"))
		return fmt.Errorf("reset session %s: %w", s.id, err)
	}

	s.agent = ag
	m.send(s, models.Envelope{Type: models.EnvelopeResetComplete})
	m.log.Info(ctx, "session reset", "session_id", s.id)
	return nil
}

// Disconnect detaches the channel. Graceful disconnects schedule cleanup
// after the grace period so a page reload can reconnect and reuse the
// agent; a running turn keeps running meanwhile. Non-graceful disconnects
// tear the session down immediately.
func (m *Manager) Disconnect(ctx context.Context, sessionID string, graceful bool) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return
	}

	s.sendMu.Lock()
	s.channel = nil
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	if graceful {
		s.cleanupTimer = time.AfterFunc(m.cfg.Session.CleanupGrace, func() {
			m.expire(sessionID)
		})
	}
	s.sendMu.Unlock()

	if !graceful {
		m.expire(sessionID)
		return
	}
	m.log.Info(ctx, "session disconnected", "session_id", sessionID,
		"grace", m.cfg.Session.CleanupGrace.String())
}

// expire removes a session whose grace period lapsed without a reconnect.
func (m *Manager) expire(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		// A reconnect may have won the race after the timer fired.
		s.sendMu.Lock()
		if s.channel != nil {
			s.sendMu.Unlock()
			m.mu.Unlock()
			return
		}
		s.sendMu.Unlock()
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	s.agent.Cleanup(ctx)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	m.log.Info(ctx, "session expired", "session_id", sessionID)
}

// sweep removes sessions whose cleanup timer was lost (process hiccups,
// timer races). Normally a no-op.
func (m *Manager) sweep() {
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.sendMu.Lock()
		orphaned := s.channel == nil && s.cleanupTimer == nil
		s.sendMu.Unlock()
		if orphaned {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.expire(id)
		if m.metrics != nil {
			m.metrics.SessionsSwept.Inc()
		}
	}
}

// SessionInfo is one row of the active-session listing.
type SessionInfo struct {
	ID        string    `json:"id"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
}

// Sessions lists the live sessions.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		s.sendMu.Lock()
		connected := s.channel != nil
		s.sendMu.Unlock()
		out = append(out, SessionInfo{
			ID:        id,
			Connected: connected,
			CreatedAt: s.agent.CreatedAt(),
		})
	}
	return out
}

// Exists reports whether the session id is live.
func (m *Manager) Exists(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if s.broken {
		return nil, ErrSessionBroken
	}
	return s, nil
}

// send writes one envelope under the session's send lock. Writes to a
// detached channel are dropped; the client will miss mid-grace envelopes by
// design of the reconnect protocol.
func (m *Manager) send(s *session, e models.Envelope) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.channel == nil {
		return
	}
	if m.metrics != nil {
		m.metrics.RecordEnvelope(string(e.Type))
	}
	if err := s.channel.Send(e); err != nil {
		m.log.Warn(context.Background(), "channel write failed",
			"session_id", s.id, "error", err)
	}
}
