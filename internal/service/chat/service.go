// Package chat sequences one conversational turn across the durable store and
// the assistant: user row, model reply, assistant row. The two rows are written
// independently of each other and of the model call.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/model/chat"
	"github.com/healthassistant/backend/internal/service/assistant"
	"github.com/healthassistant/backend/internal/store/chatstore"
)

// Assistant is the conversation orchestrator as seen by the transports.
type Assistant interface {
	Respond(ctx context.Context, userText, sessionID string) (string, error)
	RespondStream(ctx context.Context, userText, sessionID string, onDelta func(string) error) (string, error)
	Reset(sessionID string)
}

// Service persists both sides of every turn and forwards the text to the assistant.
type Service struct {
	store     chatstore.Store
	assistant Assistant
}

// NewService wires the durable store to the assistant.
func NewService(store chatstore.Store, assistant Assistant) *Service {
	return &Service{store: store, assistant: assistant}
}

// Send validates text, records the user turn, asks the assistant and records its reply.
func (s *Service) Send(ctx context.Context, sessionID, text string) (string, error) {
	return s.send(ctx, sessionID, text, func(userText string) (string, error) {
		return s.assistant.Respond(ctx, userText, sessionID)
	})
}

// SendStream is Send with incremental delivery of the reply.
func (s *Service) SendStream(ctx context.Context, sessionID, text string, onDelta func(string) error) (string, error) {
	return s.send(ctx, sessionID, text, func(userText string) (string, error) {
		return s.assistant.RespondStream(ctx, userText, sessionID, onDelta)
	})
}

func (s *Service) send(ctx context.Context, sessionID, text string, respond func(string) (string, error)) (string, error) {
	userText := strings.TrimSpace(text)
	if userText == "" {
		return "", assistant.ErrEmptyMessage
	}
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}

	if _, err := s.store.Append(ctx, chat.Message{SessionID: sessionID, Role: chat.RoleUser, Content: userText}); err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}

	reply, err := respond(userText)
	if err != nil {
		return "", err
	}

	if _, err := s.store.Append(ctx, chat.Message{SessionID: sessionID, Role: chat.RoleAssistant, Content: reply}); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("assistant reply not persisted")
		return "", fmt.Errorf("save assistant message: %w", err)
	}
	return reply, nil
}

// Transcript returns the durable history of the session, oldest first.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListBySession(ctx, sessionID)
}

// Reset clears the assistant's context and deletes the session's rows.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	s.assistant.Reset(sessionID)
	n, err := s.store.DeleteBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	log.Info().Str("session_id", sessionID).Int64("deleted", n).Msg("session history deleted")
	return nil
}
