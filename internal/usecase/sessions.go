package usecase

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultSessionTTL is the idle lifetime of an activation session.
const DefaultSessionTTL = 30 * time.Minute

// Session is the time-bounded lease backing one active instance. Expiry is
// always LastActivity + TTL; touching refreshes activity, never CreatedAt.
type Session struct {
	AgentID      string    `json:"agent_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionTracker owns per-instance sessions: creation, activity refresh and
// expiry collection. The coordinator creates and removes sessions in lockstep
// with the active-instance table so neither exists without the other.
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionTracker creates a tracker. ttl <= 0 selects DefaultSessionTTL.
func NewSessionTracker(ttl time.Duration, logger *slog.Logger) *SessionTracker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionTracker{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// TTL returns the configured session lifetime.
func (t *SessionTracker) TTL() time.Duration { return t.ttl }

// Create starts a session for agentID, replacing any previous one.
func (t *SessionTracker) Create(agentID string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s := &Session{
		AgentID:      agentID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(t.ttl),
	}
	t.sessions[agentID] = s
	return *s
}

// Touch refreshes the session's activity, extending expiry by one TTL from
// now. Returns false when no session exists for agentID.
func (t *SessionTracker) Touch(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[agentID]
	if !ok {
		return false
	}
	now := t.now()
	s.LastActivity = now
	s.ExpiresAt = now.Add(t.ttl)
	return true
}

// Get returns a copy of the session for agentID.
func (t *SessionTracker) Get(agentID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[agentID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Remove drops the session for agentID. Returns false if none existed.
func (t *SessionTracker) Remove(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[agentID]; !ok {
		return false
	}
	delete(t.sessions, agentID)
	return true
}

// List returns copies of all sessions, sorted by agent identifier.
func (t *SessionTracker) List() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Len returns the number of tracked sessions.
func (t *SessionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// ExpiredIDs returns the agents whose sessions have passed their expiry.
// The sweep deactivates them through the coordinator, which removes the
// sessions; ExpiredIDs itself mutates nothing.
func (t *SessionTracker) ExpiredIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var expired []string
	for id, s := range t.sessions {
		if s.ExpiresAt.Before(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}
