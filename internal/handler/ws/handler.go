// Package ws serves the chat over a WebSocket connection.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/handler/session"
	"github.com/healthassistant/backend/internal/service/assistant"
	chatService "github.com/healthassistant/backend/internal/service/chat"
)

const (
	defaultReadTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
)

// Handler answers chat messages sent over a WebSocket.
type Handler struct {
	chatSvc  *chatService.Service
	sessions session.Resolver
	upgrader websocket.Upgrader

	// readTimeout is how long the connection may stay silent between
	// messages; pings go out at nine tenths of it.
	readTimeout time.Duration
}

// New creates a WebSocket handler.
func New(chatSvc *chatService.Service, sessions session.Resolver) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: defaultReadTimeout,
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Reply     string `json:"reply,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type connection struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	sessionID string
}

func (c *connection) write(msg outgoingMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessions.Resolve(r, r.URL.Query().Get("session_id"))
	header := http.Header{}
	header.Add("Set-Cookie", (&http.Cookie{
		Name:     h.sessions.CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}).String())

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, sessionID: sessionID}
	log.Info().Str("session_id", sessionID).Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	extendDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
	_ = extendDeadline()
	conn.SetPongHandler(func(string) error { return extendDeadline() })

	go pingLoop(ctx, conn, h.readTimeout*9/10)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("session_id", c.sessionID).Msg("websocket read failed")
			}
			return
		}
		if err := h.handleMessage(ctx, c, msg); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Msg("websocket write failed")
			return
		}
		// the model call can outlast the deadline; pongs are not read meanwhile
		_ = extendDeadline()
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg inboundMessage) error {
	if id := strings.TrimSpace(msg.SessionID); id != "" {
		c.sessionID = id
	}

	reply, err := h.chatSvc.Send(ctx, c.sessionID, msg.Message)
	if err != nil {
		text := err.Error()
		if !errors.Is(err, assistant.ErrEmptyMessage) {
			log.Error().Err(err).Str("session_id", c.sessionID).Msg("websocket chat failed")
		}
		return c.write(outgoingMessage{Type: "error", SessionID: c.sessionID, Error: text})
	}
	return c.write(outgoingMessage{Type: "reply", Reply: reply, SessionID: c.sessionID})
}

func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
