package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds live sessions keyed by id (thread-safe).
type Registry struct {
	cfg      Config
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates a registry whose sessions share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, sessions: make(map[uuid.UUID]*Session)}
}

// Create starts a new idle session.
func (r *Registry) Create() *Session {
	s := New(uuid.New(), r.cfg)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for id, if it exists.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and forgets the session for id.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session, releasing their files.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[uuid.UUID]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
