package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.json")
	s := NewStore(path)

	now := time.Now().Truncate(time.Second)
	in := State{
		ActiveAgentIDs: []string{"architect", "qa"},
		Sessions: []SessionRecord{
			{AgentID: "architect", CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(30 * time.Minute)},
		},
	}
	if err := s.Write(in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out == nil {
		t.Fatal("Read returned nil state")
	}
	if len(out.ActiveAgentIDs) != 2 || out.ActiveAgentIDs[0] != "architect" {
		t.Errorf("ActiveAgentIDs = %v", out.ActiveAgentIDs)
	}
	if len(out.Sessions) != 1 || !out.Sessions[0].ExpiresAt.Equal(now.Add(30*time.Minute)) {
		t.Errorf("Sessions = %v", out.Sessions)
	}
	if out.SavedAt.IsZero() {
		t.Error("SavedAt should be stamped on write")
	}
}

func TestReadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "never-written.json"))
	state, err := s.Read()
	if err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if state != nil {
		t.Errorf("state = %v, want nil", state)
	}
}

func TestWriteReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.json")
	s := NewStore(path)

	if err := s.Write(State{ActiveAgentIDs: []string{"a", "b", "c"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(State{ActiveAgentIDs: []string{"a"}}); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	state, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(state.ActiveAgentIDs) != 1 {
		t.Errorf("ActiveAgentIDs = %v, want [a]", state.ActiveAgentIDs)
	}

	// No temp files linger after the rename.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want just the snapshot", len(entries))
	}
}

func TestWriteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "active.json")
	s := NewStore(path)

	if err := s.Write(State{ActiveAgentIDs: []string{"a"}}); err != nil {
		t.Fatalf("Write should create parent dirs: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewStore(path)
	if _, err := s.Read(); err == nil {
		t.Error("corrupt snapshot should error")
	}
}
