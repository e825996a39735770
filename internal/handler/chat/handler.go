package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/handler/session"
	"github.com/healthassistant/backend/internal/service/assistant"
	chatService "github.com/healthassistant/backend/internal/service/chat"
	"github.com/healthassistant/backend/pkg/utils"
)

// Handler serves the chat, history and reset endpoints.
type Handler struct {
	chatSvc  *chatService.Service
	sessions session.Resolver
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, sessions session.Resolver) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		sessions: sessions,
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/history/{sessionID}", h.handleHistory)
	r.Post("/reset/{sessionID}", h.handleReset)
	r.Delete("/reset/{sessionID}", h.handleReset)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type historyResponse struct {
	Messages []historyMessage `json:"messages"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := h.sessions.Resolve(r, payload.SessionID)
	h.sessions.Bind(w, sessionID)

	reply, err := h.chatSvc.Send(r.Context(), sessionID, payload.Message)
	if err != nil {
		if errors.Is(err, assistant.ErrEmptyMessage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Reply: reply, SessionID: sessionID})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.Transcript(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("history request failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := historyResponse{Messages: make([]historyMessage, 0, len(messages))}
	for _, m := range messages {
		out.Messages = append(out.Messages, historyMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.Reset(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("reset request failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
