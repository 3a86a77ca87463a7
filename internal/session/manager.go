package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Session is the registry's view of one live relay session.
type Session struct {
	ID             string    `json:"session_id"`
	RemoteAddr     string    `json:"remote_addr"`
	Variant        string    `json:"variant"`
	State          State     `json:"state"`
	Counters       Counters  `json:"counters"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Manager tracks live sessions. Ended sessions are removed; nothing here
// survives a session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onEnd    func(*Session)
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// SetEndHook registers a callback invoked after a session is removed.
func (m *Manager) SetEndHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

func (m *Manager) Create(remoteAddr, variant string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		RemoteAddr:     remoteAddr,
		Variant:        variant,
		State:          StateIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Update records a state transition and the latest counters.
func (m *Manager) Update(sessionID string, state State, counters Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.State = state
	s.Counters = counters
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End removes the session and returns its final snapshot.
func (m *Manager) End(sessionID string, counters Counters) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(m.sessions, sessionID)
	s.State = StateTerminated
	s.Counters = counters
	s.LastActivityAt = time.Now().UTC()
	ended := clone(s)
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		hook(ended)
	}
	return ended, nil
}

// List returns live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
