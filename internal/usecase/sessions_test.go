package usecase

import (
	"testing"
	"time"
)

func TestSessionTrackerCreate(t *testing.T) {
	tr := NewSessionTracker(30*time.Minute, testLogger())

	s := tr.Create("qa")
	if s.AgentID != "qa" {
		t.Errorf("AgentID = %q, want qa", s.AgentID)
	}
	if !s.ExpiresAt.Equal(s.LastActivity.Add(30 * time.Minute)) {
		t.Error("ExpiresAt should be LastActivity + TTL")
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestSessionTrackerDefaultTTL(t *testing.T) {
	tr := NewSessionTracker(0, testLogger())
	if tr.TTL() != DefaultSessionTTL {
		t.Errorf("TTL = %v, want %v", tr.TTL(), DefaultSessionTTL)
	}
}

func TestSessionTrackerTouchExtendsFromNow(t *testing.T) {
	tr := NewSessionTracker(30*time.Minute, testLogger())

	base := time.Now()
	tr.now = func() time.Time { return base }
	created := tr.Create("qa")

	// 20 minutes pass, then activity.
	tr.now = func() time.Time { return base.Add(20 * time.Minute) }
	if !tr.Touch("qa") {
		t.Fatal("Touch should find the session")
	}

	s, ok := tr.Get("qa")
	if !ok {
		t.Fatal("Get should find the session")
	}
	want := base.Add(20 * time.Minute).Add(30 * time.Minute)
	if !s.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, want)
	}
	if !s.CreatedAt.Equal(created.CreatedAt) {
		t.Error("Touch must not change CreatedAt")
	}
}

func TestSessionTrackerTouchUnknown(t *testing.T) {
	tr := NewSessionTracker(time.Minute, testLogger())
	if tr.Touch("ghost") {
		t.Error("Touch on unknown agent should return false")
	}
}

func TestSessionTrackerExpiredIDs(t *testing.T) {
	tr := NewSessionTracker(30*time.Minute, testLogger())

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Create("stale-b")
	tr.Create("stale-a")

	tr.now = func() time.Time { return base.Add(10 * time.Minute) }
	tr.Create("fresh")

	// 31 minutes after base: the first two expired, "fresh" has not.
	tr.now = func() time.Time { return base.Add(31 * time.Minute) }
	expired := tr.ExpiredIDs()
	if len(expired) != 2 || expired[0] != "stale-a" || expired[1] != "stale-b" {
		t.Errorf("ExpiredIDs = %v, want [stale-a stale-b]", expired)
	}

	// Collection must not mutate: the sessions are still tracked.
	if tr.Len() != 3 {
		t.Errorf("Len after ExpiredIDs = %d, want 3", tr.Len())
	}
}

// A session expiring exactly at the boundary is not yet expired.
func TestSessionTrackerExpiryBoundary(t *testing.T) {
	tr := NewSessionTracker(30*time.Minute, testLogger())

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Create("edge")

	tr.now = func() time.Time { return base.Add(30 * time.Minute) }
	if got := tr.ExpiredIDs(); len(got) != 0 {
		t.Errorf("ExpiredIDs at exact TTL = %v, want none", got)
	}

	tr.now = func() time.Time { return base.Add(30*time.Minute + time.Nanosecond) }
	if got := tr.ExpiredIDs(); len(got) != 1 {
		t.Errorf("ExpiredIDs past TTL = %v, want [edge]", got)
	}
}

func TestSessionTrackerTouchRescuesFromSweep(t *testing.T) {
	tr := NewSessionTracker(30*time.Minute, testLogger())

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Create("busy")

	tr.now = func() time.Time { return base.Add(29 * time.Minute) }
	tr.Touch("busy")

	tr.now = func() time.Time { return base.Add(45 * time.Minute) }
	if got := tr.ExpiredIDs(); len(got) != 0 {
		t.Errorf("touched session should survive, got expired %v", got)
	}
}

func TestSessionTrackerRemove(t *testing.T) {
	tr := NewSessionTracker(time.Minute, testLogger())
	tr.Create("qa")

	if !tr.Remove("qa") {
		t.Error("Remove should report true for an existing session")
	}
	if tr.Remove("qa") {
		t.Error("second Remove should report false")
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestSessionTrackerListSorted(t *testing.T) {
	tr := NewSessionTracker(time.Minute, testLogger())
	tr.Create("zeta")
	tr.Create("alpha")
	tr.Create("mid")

	list := tr.List()
	if len(list) != 3 {
		t.Fatalf("List len = %d, want 3", len(list))
	}
	if list[0].AgentID != "alpha" || list[1].AgentID != "mid" || list[2].AgentID != "zeta" {
		t.Errorf("List not sorted: %v", list)
	}
}
