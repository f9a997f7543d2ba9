package web

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager owns the live sessions and reaps idle ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	factory func(id string) *Session
	ttl     time.Duration
	logger  *slog.Logger

	created atomic.Uint64
	reaped  atomic.Uint64
}

// NewManager creates a manager that builds sessions with factory.
func NewManager(factory func(id string) *Session, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		ttl:      ttl,
		logger:   logger.With("component", "web.sessions"),
	}
}

// Create starts a session with a fresh id.
func (m *Manager) Create() *Session {
	s, _ := m.GetOrCreate("")
	return s
}

// GetOrCreate returns the session with id, creating it if needed. An
// empty id always creates a session.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s := m.factory(id)
	m.sessions[id] = s
	m.created.Add(1)
	m.logger.Info("session created", "session", id, "sessions", len(m.sessions))
	return s, true
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns session summaries, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Created.Before(sessions[j].Created)
	})

	infos := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	return infos
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Created returns the number of sessions created since start.
func (m *Manager) Created() uint64 {
	return m.created.Load()
}

// Reaped returns the number of sessions reaped for idleness.
func (m *Manager) Reaped() uint64 {
	return m.reaped.Load()
}

// Remove closes and forgets the session with id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Reap removes sessions with no page that have been idle longer than the
// TTL. It returns how many were removed.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.Idle(now, m.ttl) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		m.reaped.Add(1)
		m.logger.Info("session reaped", "session", s.ID, "idle", now.Sub(s.LastSeen()).Round(time.Second))
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
