package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/forge/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsSendBuffer      = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsChannel adapts one websocket connection to the manager's Channel. All
// outbound envelopes pass through the send channel and a single write loop,
// so concurrent senders never interleave frames.
type wsChannel struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	c := &wsChannel{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsChannel) Send(e models.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	}
}

func (c *wsChannel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// A dead connection must fail senders immediately, not
				// leave them blocked on a full buffer until the read
				// side times out.
				c.close()
				return
			}
		}
	}
}

func (c *wsChannel) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// handleChatSocket upgrades the connection and binds it to the session.
// When the agent fails to come up, the socket closes without writing any
// envelope.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	wantReconnect := r.URL.Query().Get("reconnect") == "true"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ch := newWSChannel(conn)
	ctx := r.Context()

	if wantReconnect && !s.manager.Exists(sessionID) {
		// The grace period lapsed; the connect below starts a fresh agent
		// and the connection envelope reports reconnected=false.
		s.log.Info(ctx, "reconnect requested for expired session", "session_id", sessionID)
	}

	if err := s.manager.Connect(ctx, sessionID, ch); err != nil {
		s.log.Error(ctx, "session connect failed", "session_id", sessionID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(wsWriteWait))
		ch.close()
		return
	}

	defer func() {
		// Detached from the manager first so nothing writes into the
		// closing socket; cleanup waits out the grace period.
		s.manager.Disconnect(context.WithoutCancel(ctx), sessionID, true)
		ch.close()
	}()

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// Application-level pings refresh the deadline too; clients that
		// cannot send control frames stay alive by chatting.
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := s.manager.Receive(ctx, sessionID, data); err != nil {
			s.log.Warn(ctx, "message handling failed", "session_id", sessionID, "error", err)
		}
	}
}
