package session

import (
	"sync"
	"time"
)

// Key identifies a session: identities on different platforms are
// independent.
type Key struct {
	Platform string
	UserID   string
}

// Registry is the concurrent-safe per-user session map. GetOrCreate has
// compute-if-absent semantics so near-simultaneous duplicate messages
// from the same user cannot double-start a conversation.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Key]*Session)}
}

// GetOrCreate returns the existing session for the user or installs the
// one produced by create. created reports which happened. The create
// callback runs under the registry lock.
func (r *Registry) GetOrCreate(platform, userID string, create func() (*Session, error)) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Platform: platform, UserID: userID}
	if existing, ok := r.sessions[key]; ok {
		return existing, false, nil
	}

	s, err = create()
	if err != nil {
		return nil, false, err
	}
	r.sessions[key] = s
	return s, true, nil
}

// Get returns the user's session, if any.
func (r *Registry) Get(platform, userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[Key{Platform: platform, UserID: userID}]
	return s, ok
}

// Remove drops the user's session. Removing a missing session is a no-op.
func (r *Registry) Remove(platform, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, Key{Platform: platform, UserID: userID})
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// PruneIdle drops sessions with no activity since the cutoff and returns
// how many were removed. Run periodically as the draft-cleanup job.
func (r *Registry) PruneIdle(maxAge time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	cutoff := now.Add(-maxAge)
	for key, s := range r.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(r.sessions, key)
			removed++
		}
	}
	return removed
}
