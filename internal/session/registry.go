package session

import "sync"

// Registry holds the live sessions of this process, keyed by call ID.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers a session under its call ID, replacing any previous entry.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	r.sessions[s.CallID()] = s
	r.mu.Unlock()
}

// Get returns the session for callID, or nil when unknown.
func (r *Registry) Get(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Remove deletes the session for callID and returns it, or nil.
func (r *Registry) Remove(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[callID]
	delete(r.sessions, callID)
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for every live session. fn must not call back into the
// registry.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}
