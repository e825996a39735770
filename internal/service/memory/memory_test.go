package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/healthassistant/backend/internal/model/chat"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGetUnknownSessionIsEmpty(t *testing.T) {
	m := New(Options{})
	require.Empty(t, m.Get("missing"))
	require.NotNil(t, m.Get("missing"))
	require.Zero(t, m.Len())

	m.Clear("missing")
	require.Zero(t, m.Len())
}

func TestAppendKeepsOrderAndCopies(t *testing.T) {
	m := New(Options{})
	m.Append("s", chat.UserTurn("hi"), chat.AssistantTurn("hello"))

	got := m.Get("s")
	require.Equal(t, []chat.Turn{chat.UserTurn("hi"), chat.AssistantTurn("hello")}, got)

	got[0].Content = "mutated"
	require.Equal(t, "hi", m.Get("s")[0].Content)
}

func TestClearLeavesEmptySession(t *testing.T) {
	m := New(Options{})
	m.Append("s", chat.UserTurn("hi"), chat.AssistantTurn("hello"))
	m.Clear("s")

	require.Empty(t, m.Get("s"))
	require.Equal(t, 1, m.Len())

	m.Append("s", chat.UserTurn("again"))
	require.Equal(t, []chat.Turn{chat.UserTurn("again")}, m.Get("s"))
}

func TestMaxTurnsDropsOldestPairs(t *testing.T) {
	m := New(Options{MaxTurns: 4})
	for i := 0; i < 3; i++ {
		m.Append("s", chat.UserTurn(fmt.Sprintf("u%d", i)), chat.AssistantTurn(fmt.Sprintf("a%d", i)))
	}

	got := m.Get("s")
	require.Len(t, got, 4)
	require.Equal(t, chat.UserTurn("u1"), got[0])
	require.Equal(t, chat.AssistantTurn("a2"), got[3])
}

func TestMaxTurnsOddBoundStartsWithUser(t *testing.T) {
	m := New(Options{MaxTurns: 3})
	m.Append("s", chat.UserTurn("u0"), chat.AssistantTurn("a0"))
	m.Append("s", chat.UserTurn("u1"), chat.AssistantTurn("a1"))

	got := m.Get("s")
	require.Equal(t, []chat.Turn{chat.UserTurn("u1"), chat.AssistantTurn("a1")}, got)
}

func TestLockSerializesSameSession(t *testing.T) {
	m := New(Options{})
	first := m.Lock("s")

	acquired := make(chan struct{})
	go func() {
		second := m.Lock("s")
		close(acquired)
		second.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	first.Unlock()
	first.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestLockDoesNotBlockOtherSessions(t *testing.T) {
	m := New(Options{})
	held := m.Lock("a")
	defer held.Unlock()

	done := make(chan struct{})
	go func() {
		s := m.Lock("b")
		s.Append(chat.UserTurn("x"))
		s.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}

	// readers never wait on the turn lock
	require.Empty(t, m.Get("a"))
}

func TestConcurrentLockedAppendsStayPaired(t *testing.T) {
	m := New(Options{})
	var wg conc.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Go(func() {
			s := m.Lock("s")
			defer s.Unlock()
			n := len(s.Turns())
			s.Append(chat.UserTurn(fmt.Sprintf("u%d-%d", i, n)))
			s.Append(chat.AssistantTurn(fmt.Sprintf("a%d-%d", i, n)))
		})
	}
	wg.Wait()

	got := m.Get("s")
	require.Len(t, got, 100)
	for j := 0; j < len(got); j += 2 {
		require.Equal(t, chat.RoleUser, got[j].Role)
		require.Equal(t, chat.RoleAssistant, got[j+1].Role)
		require.Equal(t, got[j].Content[1:], got[j+1].Content[1:])
	}
}

func TestEvictIdleSkipsHeldAndRecentSessions(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := New(Options{IdleTTL: time.Hour, Now: clock.Now})

	m.Append("old", chat.UserTurn("x"))
	m.Append("held", chat.UserTurn("y"))
	held := m.Lock("held")

	clock.Advance(2 * time.Hour)
	m.Append("fresh", chat.UserTurn("z"))

	require.Equal(t, 1, m.EvictIdle(clock.Now()))
	require.Empty(t, m.Get("old"))
	require.Len(t, m.Get("held"), 1)
	require.Len(t, m.Get("fresh"), 1)

	held.Unlock()
	require.Equal(t, 1, m.EvictIdle(clock.Now()))
	require.Equal(t, 1, m.Len())
}

func TestEvictIdleDisabled(t *testing.T) {
	m := New(Options{})
	m.Append("s", chat.UserTurn("x"))
	require.Zero(t, m.EvictIdle(time.Now().Add(1000*time.Hour)))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := New(Options{IdleTTL: time.Millisecond})
	m.Append("s", chat.UserTurn("x"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestAppendIsNotLostToConcurrentSweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := New(Options{IdleTTL: time.Hour, Now: clock.Now})

	const sessions = 200
	for i := 0; i < sessions; i++ {
		m.Append(fmt.Sprintf("s%d", i), chat.UserTurn("old"))
	}
	// every session is now stale
	clock.Advance(2 * time.Hour)
	now := clock.Now()

	var wg conc.WaitGroup
	wg.Go(func() {
		for i := 0; i < sessions; i++ {
			m.Append(fmt.Sprintf("s%d", i), chat.AssistantTurn("new"))
		}
	})
	wg.Go(func() {
		for i := 0; i < sessions; i++ {
			m.EvictIdle(now)
		}
	})
	wg.Wait()

	for i := 0; i < sessions; i++ {
		got := m.Get(fmt.Sprintf("s%d", i))
		require.NotEmpty(t, got, "session s%d lost its append", i)
		require.Equal(t, chat.AssistantTurn("new"), got[len(got)-1])
	}
}
