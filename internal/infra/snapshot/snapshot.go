// Package snapshot persists a best-effort mirror of the active agent set.
// The snapshot is a diagnostics/restart hint, never the source of truth:
// it is read once on startup and rewritten after every membership change.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionRecord is the persisted timing of one activation session.
type SessionRecord struct {
	AgentID      string    `json:"agent_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// State is the persisted record of currently active agents.
type State struct {
	ActiveAgentIDs []string        `json:"active_agent_ids"`
	Sessions       []SessionRecord `json:"sessions"`
	SavedAt        time.Time       `json:"saved_at"`
}

// Store writes and reads snapshot files. Writes are atomic (tmp + rename)
// so a crash mid-write never leaves a truncated snapshot behind.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Write persists the state, replacing any previous snapshot.
func (s *Store) Write(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read loads the last persisted state. A missing file returns (nil, nil):
// the daemon has simply never written a snapshot.
func (s *Store) Read() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &state, nil
}
