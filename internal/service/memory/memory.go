// Package memory holds the in-process conversation context of every session.
//
// Each session owns two locks. The turn lock serializes whole read-call-append
// sequences (one Respond or Reset at a time per session); the data lock only
// guards the slice, so readers never wait on an in-flight model call. The
// map-level mutex is held for lookups only, which keeps sessions independent.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/model/chat"
)

// Options bounds what the memory retains. Zero values disable the bound.
type Options struct {
	MaxTurns int
	IdleTTL  time.Duration
	Now      func() time.Time
}

// Memory maps session ids to their conversation context.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*entry
	maxTurns int
	idleTTL  time.Duration
	now      func() time.Time
}

type entry struct {
	turnMu sync.Mutex

	mu           sync.RWMutex
	turns        []chat.Turn
	lastActivity time.Time

	// holders counts callers that hold or wait for turnMu; guarded by Memory.mu.
	holders int
}

// New creates an empty memory.
func New(opts Options) *Memory {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		sessions: make(map[string]*entry),
		maxTurns: opts.MaxTurns,
		idleTTL:  opts.IdleTTL,
		now:      now,
	}
}

// Get returns a copy of the session's turns. Unknown sessions are empty.
func (m *Memory) Get(sessionID string) []chat.Turn {
	m.mu.Lock()
	e := m.sessions[sessionID]
	m.mu.Unlock()
	if e == nil {
		return []chat.Turn{}
	}
	return e.snapshot()
}

// Append adds turns to the session, creating its context when needed.
func (m *Memory) Append(sessionID string, turns ...chat.Turn) {
	// Held across the append so a sweep cannot drop the entry in between.
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTo(m.entryLocked(sessionID), turns)
}

// Clear empties the session's turns. The id stays usable.
func (m *Memory) Clear(sessionID string) {
	m.mu.Lock()
	e := m.sessions[sessionID]
	m.mu.Unlock()
	if e != nil {
		m.clear(e)
	}
}

// Lock acquires the session's turn lock and returns a handle for it. The
// caller must call Unlock on the handle.
func (m *Memory) Lock(sessionID string) *Session {
	m.mu.Lock()
	e := m.entryLocked(sessionID)
	e.holders++
	m.mu.Unlock()

	e.turnMu.Lock()
	return &Session{m: m, id: sessionID, e: e}
}

// Len returns the number of tracked sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle drops sessions idle for longer than the configured TTL that no
// caller currently holds. It returns how many were dropped.
func (m *Memory) EvictIdle(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.sessions {
		if e.holders > 0 {
			continue
		}
		e.mu.RLock()
		last := e.lastActivity
		e.mu.RUnlock()
		if now.Sub(last) <= m.idleTTL {
			continue
		}
		delete(m.sessions, id)
		evicted++
	}
	return evicted
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) error {
	if m.idleTTL <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := m.EvictIdle(now); n > 0 {
				log.Info().Int("evicted", n).Int("remaining", m.Len()).Msg("evicted idle sessions")
			}
		}
	}
}

func (m *Memory) entryLocked(sessionID string) *entry {
	e, ok := m.sessions[sessionID]
	if !ok {
		e = &entry{turns: make([]chat.Turn, 0, 8), lastActivity: m.now()}
		m.sessions[sessionID] = e
	}
	return e
}

func (m *Memory) appendTo(e *entry, turns []chat.Turn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = m.trim(append(e.turns, turns...))
	e.lastActivity = m.now()
}

func (m *Memory) clear(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = make([]chat.Turn, 0, 8)
	e.lastActivity = m.now()
}

// trim drops the oldest turns beyond maxTurns so that the kept history still
// opens with a user turn.
func (m *Memory) trim(turns []chat.Turn) []chat.Turn {
	if m.maxTurns <= 0 || len(turns) <= m.maxTurns {
		return turns
	}
	drop := len(turns) - m.maxTurns
	for drop < len(turns) && turns[drop].Role != chat.RoleUser {
		drop++
	}
	kept := make([]chat.Turn, len(turns)-drop, m.maxTurns)
	copy(kept, turns[drop:])
	return kept
}

func (e *entry) snapshot() []chat.Turn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	copied := make([]chat.Turn, len(e.turns))
	copy(copied, e.turns)
	return copied
}

// Session is a locked view of one session's context.
type Session struct {
	m    *Memory
	id   string
	e    *entry
	once sync.Once
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Turns returns a copy of the current turns.
func (s *Session) Turns() []chat.Turn { return s.e.snapshot() }

// Append adds turns to the session.
func (s *Session) Append(turns ...chat.Turn) { s.m.appendTo(s.e, turns) }

// Clear empties the session's turns.
func (s *Session) Clear() { s.m.clear(s.e) }

// Unlock releases the turn lock. Extra calls are no-ops.
func (s *Session) Unlock() {
	s.once.Do(func() {
		s.e.turnMu.Unlock()
		s.m.mu.Lock()
		s.e.holders--
		s.m.mu.Unlock()
	})
}
