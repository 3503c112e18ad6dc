package correlate

import (
	"testing"
	"time"
)

func TestRegisterAndLookup(t *testing.T) {
	m := NewMapper(5 * time.Minute)
	now := time.Now()
	m.Register("agent-1", "session-1", "parent-agent-1", "explore", now)

	rec, ok := m.ByID("agent-1")
	if !ok {
		t.Fatalf("expected agent-1 to be tracked")
	}
	if rec.ParentSessionID != "session-1" || rec.Status != StatusRunning {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Name != "explore" {
		t.Fatalf("expected name %q, got %q", "explore", rec.Name)
	}
	if rec.ParentAgentID != "parent-agent-1" {
		t.Fatalf("expected parent agent id %q, got %q", "parent-agent-1", rec.ParentAgentID)
	}

	parent, ok := m.ParentOf("agent-1")
	if !ok || parent != "session-1" {
		t.Fatalf("expected parent session-1, got %q ok=%v", parent, ok)
	}
}

func TestSessionReverseIndexIsInverse(t *testing.T) {
	m := NewMapper(5 * time.Minute)
	now := time.Now()
	m.Register("a1", "s1", "", "", now)
	m.Register("a2", "s1", "", "", now)
	m.Register("a3", "s2", "", "", now)

	byS1 := m.BySession("s1")
	if len(byS1) != 2 {
		t.Fatalf("expected 2 agents in s1, got %d", len(byS1))
	}
	for _, a := range byS1 {
		if parent, _ := m.ParentOf(a.AgentID); parent != "s1" {
			t.Fatalf("inverse broken for %s: parent=%s", a.AgentID, parent)
		}
	}
}

func TestReregisterCancelsRemoval(t *testing.T) {
	m := NewMapper(30 * time.Millisecond)
	now := time.Now()
	m.Register("a1", "s1", "", "", now)

	removed := make(chan struct{}, 1)
	m.Stop("a1", StatusSuccess, now, func() { removed <- struct{}{} })

	// Re-register before the removal timer fires.
	m.Register("a1", "s1", "", "", now)

	select {
	case <-removed:
		t.Fatalf("removal should have been cancelled by re-register")
	case <-time.After(80 * time.Millisecond):
	}

	if _, ok := m.ByID("a1"); !ok {
		t.Fatalf("a1 should still be tracked after re-register")
	}
}

func TestStopSchedulesRemoval(t *testing.T) {
	m := NewMapper(20 * time.Millisecond)
	now := time.Now()
	m.Register("a1", "s1", "", "", now)

	removed := make(chan struct{}, 1)
	m.Stop("a1", StatusFailure, now, func() { removed <- struct{}{} })

	select {
	case <-removed:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected removal to fire after delay")
	}

	if _, ok := m.ByID("a1"); ok {
		t.Fatalf("a1 should be removed after timer fires")
	}
}

func TestSessionCleanupCancelsTimersAndRemoves(t *testing.T) {
	m := NewMapper(20 * time.Millisecond)
	now := time.Now()
	m.Register("a1", "s1", "", "", now)
	m.Register("a2", "s1", "", "", now)

	removed := make(chan struct{}, 2)
	m.Stop("a1", StatusSuccess, now, func() { removed <- struct{}{} })

	m.SessionCleanup("s1")

	if _, ok := m.ByID("a1"); ok {
		t.Fatalf("a1 should be gone immediately after session cleanup")
	}
	if _, ok := m.ByID("a2"); ok {
		t.Fatalf("a2 should be gone immediately after session cleanup")
	}

	select {
	case <-removed:
		t.Fatalf("removal callback should not fire after cleanup cancelled the timer")
	case <-time.After(80 * time.Millisecond):
	}

	if got := m.BySession("s1"); len(got) != 0 {
		t.Fatalf("expected empty session index after cleanup, got %v", got)
	}
}
