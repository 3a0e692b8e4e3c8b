package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateRun is returned when registering a run id that is already live.
var ErrDuplicateRun = errors.New("run already registered")

// Registry is the concurrency-safe table of live runs. Entries are added
// when a run starts and removed once it has been persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s. A second session with the same id is rejected.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// RegisterIfBelow adds s only while fewer than limit sessions are live.
// A limit of 0 means no limit. It returns false when the limit was reached.
func (r *Registry) RegisterIfBelow(s *Session, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > 0 && len(r.sessions) >= limit {
		return false, nil
	}
	if _, exists := r.sessions[s.ID]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateRun, s.ID)
	}
	r.sessions[s.ID] = s
	return true, nil
}

// Lookup returns the live session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops id from the table. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Snapshot(), out[j].Snapshot()
		if ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.ID < rj.ID
		}
		return ri.CreatedAt.Before(rj.CreatedAt)
	})
	return out
}
