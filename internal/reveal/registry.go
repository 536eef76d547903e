package reveal

import (
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
)

// Registry keeps the in-flight reveal sessions of all fans.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // Key: session ID
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry whose janitor drops sessions untouched for
// longer than ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Begin creates a session for fanID and starts its first timer.
func (r *Registry) Begin(fanID string, mode models.AnimationMode) (*Session, error) {
	s, err := NewSession(uuid.NewString(), fanID, mode)
	if err != nil {
		return nil, err
	}
	if err := s.Begin(r.now()); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s, nil
}

// Commit hands the backend outcome to the session.
func (r *Registry) Commit(s *Session, outcome Outcome, plan *Plan) error {
	return s.Commit(outcome, plan, r.now())
}

// Fail aborts the session after a backend failure.
func (r *Registry) Fail(s *Session, cause error) {
	if err := s.Fail(cause, r.now()); err != nil {
		logger.Warningf("reveal: abort session %s: %v", s.id, err)
	}
}

// Get returns the session if it belongs to fanID.
func (r *Registry) Get(id, fanID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.fanID != fanID {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "reveal session not found",
			map[string]string{"reveal_id": id})
	}
	return s, nil
}

// View reports the session state as of now.
func (r *Registry) View(id, fanID string) (View, error) {
	s, err := r.Get(id, fanID)
	if err != nil {
		return View{}, err
	}
	return s.View(r.now()), nil
}

// Dismiss closes the session and forgets it.
func (r *Registry) Dismiss(id, fanID string) error {
	s, err := r.Get(id, fanID)
	if err != nil {
		return err
	}
	s.Tick(r.now())
	if err := s.Dismiss(r.now()); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CleanUpInactiveSessions removes sessions that have been inactive for
// longer than the TTL.
func (r *Registry) CleanUpInactiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if r.now().Sub(s.idleSince()) > r.ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Infof("reveal: removed %d inactive sessions, %d left", removed, len(r.sessions))
	}
	return removed
}
