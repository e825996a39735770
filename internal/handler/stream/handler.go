package stream

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/handler/session"
	"github.com/healthassistant/backend/internal/service/assistant"
	chatService "github.com/healthassistant/backend/internal/service/chat"
	"github.com/healthassistant/backend/pkg/utils"
)

// Handler streams assistant replies via Server-Sent Events.
type Handler struct {
	chatSvc  *chatService.Service
	sessions session.Resolver
}

// New creates a stream handler.
func New(chatSvc *chatService.Service, sessions session.Resolver) *Handler {
	return &Handler{chatSvc: chatSvc, sessions: sessions}
}

// StreamResponse is one SSE frame.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes registers the streaming route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	userMessage := r.URL.Query().Get("message")
	sessionID := h.sessions.Resolve(r, chi.URLParam(r, "sessionID"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h.sessions.Bind(w, sessionID)
	utils.SetupSSEHeaders(w)
	started := false
	send := func(resp StreamResponse) error {
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return utils.SendSSEChunk(w, flusher, resp)
	}

	onDelta := func(delta string) error {
		if !started {
			if err := send(StreamResponse{Event: "start", SessionID: sessionID}); err != nil {
				return err
			}
		}
		return send(StreamResponse{Event: "delta", SessionID: sessionID, Content: delta})
	}

	reply, err := h.chatSvc.SendStream(r.Context(), sessionID, userMessage, onDelta)
	if err != nil {
		if !started && errors.Is(err, assistant.ErrEmptyMessage) {
			w.Header().Del("Cache-Control")
			utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("stream request failed")
		_ = send(StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
		return
	}

	if !started {
		_ = send(StreamResponse{Event: "start", SessionID: sessionID})
	}
	_ = send(StreamResponse{Event: "message", SessionID: sessionID, Content: reply})
	_ = send(StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
	log.Info().Str("session_id", sessionID).Msg("completed stream response")
}
