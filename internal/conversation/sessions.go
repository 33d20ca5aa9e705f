package conversation

import (
	"sync"
	"time"

	"learnbot/internal/domain"
)

// DefaultSessionID is used for requests that carry no session ID.
const DefaultSessionID = "default"

type session struct {
	mu    sync.Mutex // held for a whole turn
	state domain.ConversationState

	// guarded by arena.mu
	refs     int
	lastSeen time.Time
}

// arena owns every live session. A session in use is never evicted.
type arena struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

func newArena() *arena {
	return &arena{sessions: make(map[string]*session), now: time.Now}
}

// acquire returns the locked session for id, creating it when needed.
func (a *arena) acquire(id string) *session {
	if id == "" {
		id = DefaultSessionID
	}
	a.mu.Lock()
	s, ok := a.sessions[id]
	if !ok {
		s = &session{}
		a.sessions[id] = s
	}
	s.refs++
	a.mu.Unlock()

	s.mu.Lock()
	return s
}

func (a *arena) release(s *session) {
	s.mu.Unlock()
	a.mu.Lock()
	s.refs--
	s.lastSeen = a.now()
	a.mu.Unlock()
}

// peek returns a copy of the state of id without creating the session.
func (a *arena) peek(id string) domain.ConversationState {
	if id == "" {
		id = DefaultSessionID
	}
	a.mu.Lock()
	s, ok := a.sessions[id]
	if ok {
		s.refs++
	}
	a.mu.Unlock()
	if !ok {
		return domain.ConversationState{}
	}
	s.mu.Lock()
	state := s.state
	a.release(s)
	return state
}

// prune drops idle sessions and reports how many were removed.
func (a *arena) prune(idle time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-idle)
	removed := 0
	for id, s := range a.sessions {
		if s.refs == 0 && s.lastSeen.Before(cutoff) {
			delete(a.sessions, id)
			removed++
		}
	}
	return removed
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
