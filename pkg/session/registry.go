package session

import (
	"io"
	"sync"
)

// Registry holds the live sessions of a server
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open creates a session and registers it until it is closed
func (r *Registry) Open(w io.Writer, closer io.Closer) *Session {
	s := New(w, closer)
	s.onClose = r.Remove
	r.Add(s)
	return s
}

// Add registers s
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

// Remove unregisters s
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID())
	r.mu.Unlock()
}

// Get returns the session with id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every registered session
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	for _, s := range all {
		_ = s.Close()
	}
}
