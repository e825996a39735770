package chatstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/model/chat"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: open")
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout so concurrent
// requests can append while another connection reads.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) migrate() error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, "sqlite chat store: goose dialect")
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return errors.Wrap(err, "sqlite chat store: migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if s == nil || s.db == nil {
		return chat.Message{}, errors.New("sqlite chat store: db is nil")
	}
	msg, err := normalizeMessage(msg, time.Now())
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: append")
	}
	createdAtMs := msg.CreatedAt.UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, role, content, created_at_ms)
		VALUES (?, ?, ?, ?)
	`, msg.SessionID, string(msg.Role), msg.Content, createdAtMs)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: last insert id")
	}
	msg.ID = id
	msg.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	return msg, nil
}

func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at_ms
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at_ms ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list messages")
	}
	defer func() { _ = rows.Close() }()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			msg         chat.Message
			role        string
			createdAtMs int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan message")
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate messages")
	}
	return messages, nil
}

func (s *SQLiteStore) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite chat store: db is nil")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: delete messages")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: rows affected")
	}
	return n, nil
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "goose").Msgf(strings.TrimSpace(format), v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Fatal().Str("component", "goose").Msgf(strings.TrimSpace(format), v...)
}
