// Package assistant runs the single-step conversation procedure: read the
// session's context, ask the model once, remember both turns.
package assistant

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/model/chat"
	"github.com/healthassistant/backend/internal/service/memory"
)

// FallbackReply is returned when the model produced no content.
const FallbackReply = "No response."

// Completer is the language model boundary.
type Completer interface {
	Complete(ctx context.Context, system string, history []chat.Turn, userText string) (string, error)
}

// StreamCompleter is a Completer that can also deliver the reply in chunks.
type StreamCompleter interface {
	Completer
	Stream(ctx context.Context, system string, history []chat.Turn, userText string, onDelta func(string) error) (string, error)
}

// Service owns the session memory and talks to the model on its behalf.
type Service struct {
	llm    Completer
	memory *memory.Memory
	system string
}

// NewService wires a completer to a session memory.
func NewService(llm Completer, mem *memory.Memory) *Service {
	if mem == nil {
		mem = memory.New(memory.Options{})
	}
	return &Service{llm: llm, memory: mem, system: SystemPrompt}
}

// Respond sends userText with the session's prior turns to the model and
// records both turns. Calls on one session are serialized for the whole model
// round trip; other sessions are not affected.
func (s *Service) Respond(ctx context.Context, userText, sessionID string) (string, error) {
	return s.respond(ctx, userText, sessionID, func(history []chat.Turn) (string, error) {
		return s.llm.Complete(ctx, s.system, history, userText)
	})
}

// RespondStream is Respond with incremental delivery. Completers without
// streaming support deliver the whole reply as a single delta.
func (s *Service) RespondStream(ctx context.Context, userText, sessionID string, onDelta func(string) error) (string, error) {
	streamer, ok := s.llm.(StreamCompleter)
	if !ok {
		return s.respond(ctx, userText, sessionID, func(history []chat.Turn) (string, error) {
			reply, err := s.llm.Complete(ctx, s.system, history, userText)
			if err != nil || onDelta == nil || strings.TrimSpace(reply) == "" {
				return reply, err
			}
			return reply, onDelta(reply)
		})
	}
	return s.respond(ctx, userText, sessionID, func(history []chat.Turn) (string, error) {
		return streamer.Stream(ctx, s.system, history, userText, onDelta)
	})
}

func (s *Service) respond(ctx context.Context, userText, sessionID string, call func([]chat.Turn) (string, error)) (string, error) {
	session := s.memory.Lock(sessionID)
	defer session.Unlock()

	history := session.Turns()
	reply, err := call(history)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("model call failed")
		return "", &ServiceError{SessionID: sessionID, Err: err}
	}
	if strings.TrimSpace(reply) == "" {
		reply = FallbackReply
	}

	session.Append(chat.UserTurn(userText), chat.AssistantTurn(reply))
	log.Info().
		Str("session_id", sessionID).
		Int("history", len(history)).
		Int("length", len(reply)).
		Msg("assistant replied")
	return reply, nil
}

// History returns the in-memory turns of the session, oldest first.
func (s *Service) History(sessionID string) []chat.Turn {
	return s.memory.Get(sessionID)
}

// Reset empties the session's context. Unknown sessions are accepted. Reset
// waits for an in-flight Respond on the same session.
func (s *Service) Reset(sessionID string) {
	session := s.memory.Lock(sessionID)
	defer session.Unlock()
	session.Clear()
	log.Info().Str("session_id", sessionID).Msg("session reset")
}
