package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/healthassistant/backend/internal/handler/session"
	"github.com/healthassistant/backend/internal/model/chat"
	"github.com/healthassistant/backend/internal/service/assistant"
	chatservice "github.com/healthassistant/backend/internal/service/chat"
	"github.com/healthassistant/backend/internal/service/memory"
	"github.com/healthassistant/backend/internal/store/chatstore"
)

type chunkedCompleter struct{ chunks []string }

func (c chunkedCompleter) Complete(_ context.Context, _ string, _ []chat.Turn, _ string) (string, error) {
	return strings.Join(c.chunks, ""), nil
}

func (c chunkedCompleter) Stream(_ context.Context, _ string, _ []chat.Turn, _ string, onDelta func(string) error) (string, error) {
	for _, chunk := range c.chunks {
		if err := onDelta(chunk); err != nil {
			return "", err
		}
	}
	return strings.Join(c.chunks, ""), nil
}

func setupRouter(store chatstore.Store) *chi.Mux {
	asst := assistant.NewService(chunkedCompleter{chunks: []string{"Rest ", "well."}}, memory.New(memory.Options{}))
	h := New(chatservice.NewService(store, asst), session.NewResolver(""))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func readEvents(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var events []StreamResponse
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStreamEmitsDeltasAndPersists(t *testing.T) {
	store := chatstore.NewInMemoryStore()
	r := setupRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/stream/s1?message="+url.QueryEscape("sore throat"), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))

	events := readEvents(t, resp.Body.String())
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Event)
	}
	require.Equal(t, []string{"start", "delta", "delta", "message", "end"}, kinds)
	require.Equal(t, "Rest well.", events[3].Content)

	rows, err := store.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "sore throat", rows[0].Content)
	require.Equal(t, "Rest well.", rows[1].Content)
}

func TestStreamRequiresMessage(t *testing.T) {
	store := chatstore.NewInMemoryStore()
	r := setupRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/stream/s1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	rows, err := store.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, rows)
}
