package tunnel

import (
	"context"
	"sync"
	"time"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// SessionRegistry holds the live sessions of one server.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// RegistryStats summarizes a registry.
type RegistryStats struct {
	ActiveSessions int    `json:"active_sessions"`
	BytesSent      uint64 `json:"bytes_sent"`
	BytesReceived  uint64 `json:"bytes_received"`
	Rekeys         uint64 `json:"rekeys"`
}

// NewSessionRegistry creates an empty registry. now may be nil.
func NewSessionRegistry(now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{sessions: make(map[string]*Session), now: now}
}

// Add registers s under its id.
func (r *SessionRegistry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return qerrors.ErrSessionExists
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns the session with id.
func (r *SessionRegistry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, qerrors.ErrSessionNotFound
	}
	return s, nil
}

// Remove unregisters id and returns the session if it was present. The
// session is not closed.
func (r *SessionRegistry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	return s, ok
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the registered sessions in no particular order.
func (r *SessionRegistry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Stats aggregates traffic over the registered sessions.
func (r *SessionRegistry) Stats() RegistryStats {
	var st RegistryStats
	for _, s := range r.Snapshot() {
		st.ActiveSessions++
		st.BytesSent += s.BytesSent.Load()
		st.BytesReceived += s.BytesReceived.Load()
		st.Rekeys += s.Rekeys.Load()
	}
	return st
}

// ReapIdle closes and removes sessions inactive for longer than maxIdle.
// It returns the number reaped.
func (r *SessionRegistry) ReapIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	now := r.now()

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.IdleFor(now) > maxIdle {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		_ = s.Close()
	}
	return len(idle)
}

// CloseAll closes and removes every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
}

// Run reaps idle sessions every interval until ctx ends.
func (r *SessionRegistry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapIdle(maxIdle)
		}
	}
}
