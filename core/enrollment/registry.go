package enrollment

import (
	"sync"
	"time"
)

// Registry holds the open sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Idle removes and returns the sessions unused since before `deadline`. Busy sessions are kept.
func (r *Registry) Idle(deadline time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []*Session
	for id, s := range r.sessions {
		if !s.idleSince().Before(deadline) {
			continue
		}
		if !s.busy.TryLock() {
			continue
		}
		s.busy.Unlock()
		delete(r.sessions, id)
		idle = append(idle, s)
	}
	return idle
}
