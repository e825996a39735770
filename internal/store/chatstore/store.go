// Package chatstore persists chat turns as an append-only log keyed by session id.
package chatstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/healthassistant/backend/internal/model/chat"
)

// Store is the durable history of chat turns. Rows are never updated; a session's
// rows are removed together when the session is reset.
type Store interface {
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	ListBySession(ctx context.Context, sessionID string) ([]chat.Message, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	Close() error
}

func normalizeMessage(msg chat.Message, now time.Time) (chat.Message, error) {
	msg.SessionID = strings.TrimSpace(msg.SessionID)
	if msg.SessionID == "" {
		return chat.Message{}, errors.New("session id is empty")
	}
	if !msg.Role.Valid() {
		return chat.Message{}, errors.Errorf("invalid role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}
