package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/healthassistant/backend/internal/model/chat"
	"github.com/healthassistant/backend/internal/service/memory"
)

type recordingCompleter struct {
	mu        sync.Mutex
	systems   []string
	histories [][]chat.Turn
	err       error
	reply     func(userText string) string
	block     map[string]chan struct{}
}

func (r *recordingCompleter) Complete(_ context.Context, system string, history []chat.Turn, userText string) (string, error) {
	r.mu.Lock()
	r.systems = append(r.systems, system)
	r.histories = append(r.histories, history)
	gate := r.block[userText]
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if r.err != nil {
		return "", r.err
	}
	if r.reply != nil {
		return r.reply(userText), nil
	}
	return "reply to " + userText, nil
}

type streamingCompleter struct {
	recordingCompleter
	chunks []string
}

func (s *streamingCompleter) Stream(_ context.Context, _ string, _ []chat.Turn, _ string, onDelta func(string) error) (string, error) {
	for _, c := range s.chunks {
		if err := onDelta(c); err != nil {
			return "", err
		}
	}
	return strings.Join(s.chunks, ""), nil
}

func newServiceForTest(llm Completer) *Service {
	return NewService(llm, memory.New(memory.Options{}))
}

func TestHistoryAndResetOnUnknownSession(t *testing.T) {
	svc := newServiceForTest(&recordingCompleter{})
	require.Empty(t, svc.History("never-seen"))
	svc.Reset("never-seen")
	require.Empty(t, svc.History("never-seen"))
}

func TestRespondSerialCallsRecordPairsInOrder(t *testing.T) {
	llm := &recordingCompleter{}
	svc := newServiceForTest(llm)
	ctx := context.Background()

	const n = 4
	for i := 0; i < n; i++ {
		reply, err := svc.Respond(ctx, fmt.Sprintf("msg %d", i), "s")
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("reply to msg %d", i), reply)
	}

	turns := svc.History("s")
	require.Len(t, turns, 2*n)
	for i := 0; i < n; i++ {
		require.Equal(t, chat.UserTurn(fmt.Sprintf("msg %d", i)), turns[2*i])
		require.Equal(t, chat.AssistantTurn(fmt.Sprintf("reply to msg %d", i)), turns[2*i+1])
	}

	// the model saw the growing history in call order
	for i, h := range llm.histories {
		require.Len(t, h, 2*i)
	}
}

func TestRespondSendsFixedSystemPrompt(t *testing.T) {
	llm := &recordingCompleter{}
	svc := newServiceForTest(llm)

	_, err := svc.Respond(context.Background(), "I have a headache and fever", "s")
	require.NoError(t, err)
	require.Equal(t, SystemPrompt, llm.systems[0])
	require.Contains(t, SystemPrompt, "7-day diet plan")
	require.Contains(t, SystemPrompt, "no prescriptions")
	require.Contains(t, SystemPrompt, "not a medical diagnosis")
	require.Contains(t, SystemPrompt, "consulting a doctor")
}

func TestResetStartsFreshContext(t *testing.T) {
	llm := &recordingCompleter{}
	svc := newServiceForTest(llm)
	ctx := context.Background()

	_, err := svc.Respond(ctx, "before", "s")
	require.NoError(t, err)
	svc.Reset("s")
	require.Empty(t, svc.History("s"))

	_, err = svc.Respond(ctx, "after", "s")
	require.NoError(t, err)
	require.Empty(t, llm.histories[1])
	require.Len(t, svc.History("s"), 2)
}

func TestRespondEmptyReplyUsesFallback(t *testing.T) {
	llm := &recordingCompleter{reply: func(string) string { return "  " }}
	svc := newServiceForTest(llm)

	reply, err := svc.Respond(context.Background(), "hi", "s")
	require.NoError(t, err)
	require.Equal(t, FallbackReply, reply)
	require.Equal(t, chat.AssistantTurn(FallbackReply), svc.History("s")[1])
}

func TestRespondToleratesEmptyText(t *testing.T) {
	svc := newServiceForTest(&recordingCompleter{})

	reply, err := svc.Respond(context.Background(), "", "s")
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	require.Equal(t, chat.UserTurn(""), svc.History("s")[0])
}

func TestRespondModelFailureIsServiceError(t *testing.T) {
	cause := errors.New("rate limited")
	svc := newServiceForTest(&recordingCompleter{err: cause})

	_, err := svc.Respond(context.Background(), "hi", "s")
	require.Error(t, err)
	require.True(t, IsServiceError(err))
	require.ErrorIs(t, err, cause)
	require.Empty(t, svc.History("s"))
}

func TestConcurrentRespondSameSessionIsSerialized(t *testing.T) {
	llm := &recordingCompleter{}
	svc := newServiceForTest(llm)

	const n = 20
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Go(func() {
			_, err := svc.Respond(context.Background(), fmt.Sprintf("m%d", i), "shared")
			require.NoError(t, err)
		})
	}
	wg.Wait()

	turns := svc.History("shared")
	require.Len(t, turns, 2*n)
	seen := map[string]bool{}
	for j := 0; j < len(turns); j += 2 {
		require.Equal(t, chat.RoleUser, turns[j].Role)
		require.Equal(t, chat.AssistantTurn("reply to "+turns[j].Content), turns[j+1])
		seen[turns[j].Content] = true
	}
	require.Len(t, seen, n)

	// every call saw a consistent prefix: an even number of turns, each one longer
	lengths := map[int]bool{}
	for _, h := range llm.histories {
		require.Zero(t, len(h)%2)
		lengths[len(h)] = true
	}
	require.Len(t, lengths, n)
}

func TestRespondDifferentSessionsDoNotBlock(t *testing.T) {
	gate := make(chan struct{})
	llm := &recordingCompleter{block: map[string]chan struct{}{"slow": gate}}
	svc := newServiceForTest(llm)

	slowDone := make(chan struct{})
	go func() {
		_, _ = svc.Respond(context.Background(), "slow", "a")
		close(slowDone)
	}()

	require.Eventually(t, func() bool {
		llm.mu.Lock()
		defer llm.mu.Unlock()
		return len(llm.histories) == 1
	}, time.Second, 5*time.Millisecond)

	fastDone := make(chan struct{})
	go func() {
		_, err := svc.Respond(context.Background(), "fast", "b")
		require.NoError(t, err)
		close(fastDone)
	}()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("session b waited on session a")
	}

	// history reads on the busy session do not wait either
	require.Empty(t, svc.History("a"))

	close(gate)
	<-slowDone
	require.Len(t, svc.History("a"), 2)
}

func TestRespondStreamUsesStreamingCompleter(t *testing.T) {
	llm := &streamingCompleter{chunks: []string{"Stay ", "hydrated."}}
	svc := newServiceForTest(llm)

	var got []string
	reply, err := svc.RespondStream(context.Background(), "hi", "s", func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Stay hydrated.", reply)
	require.Equal(t, []string{"Stay ", "hydrated."}, got)
	require.Len(t, svc.History("s"), 2)
}

func TestRespondStreamFallsBackToComplete(t *testing.T) {
	svc := newServiceForTest(&recordingCompleter{})

	var got []string
	reply, err := svc.RespondStream(context.Background(), "hi", "s", func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{reply}, got)
}
