package correlate

import (
	"testing"
	"time"
)

func TestStartEndComputesDuration(t *testing.T) {
	tr := NewTracker(100, 5*time.Minute)
	start := time.Now()
	tr.Start("call-1", start)

	end := start.Add(250 * time.Millisecond)
	d, ok := tr.End("call-1", end)
	if !ok {
		t.Fatalf("expected End to succeed")
	}
	if d != 250 {
		t.Fatalf("expected 250ms, got %d", d)
	}
}

func TestEndUnknownID(t *testing.T) {
	tr := NewTracker(100, 5*time.Minute)
	_, ok := tr.End("nope", time.Now())
	if ok {
		t.Fatalf("expected End on unknown id to fail")
	}
}

func TestEndNegativeDurationGuarded(t *testing.T) {
	tr := NewTracker(100, 5*time.Minute)
	start := time.Now()
	tr.Start("call-1", start)

	skewed := make(chan string, 1)
	tr.OnClockSkew(func(id string) { skewed <- id })

	_, ok := tr.End("call-1", start.Add(-time.Second))
	if ok {
		t.Fatalf("expected negative duration to be rejected")
	}
	select {
	case id := <-skewed:
		if id != "call-1" {
			t.Fatalf("unexpected id in skew callback: %s", id)
		}
	default:
		t.Fatalf("expected clock skew callback to fire")
	}

	if tr.Len() != 0 {
		t.Fatalf("entry should still be removed despite skew")
	}
}

func TestStartDuplicateOverwritesAndWarns(t *testing.T) {
	tr := NewTracker(100, 5*time.Minute)
	warned := make(chan string, 1)
	tr.OnDuplicate(func(id string) { warned <- id })

	first := time.Now()
	tr.Start("call-1", first)
	second := first.Add(time.Second)
	tr.Start("call-1", second)

	select {
	case id := <-warned:
		if id != "call-1" {
			t.Fatalf("unexpected warn id: %s", id)
		}
	default:
		t.Fatalf("expected duplicate warning")
	}

	d, ok := tr.End("call-1", second.Add(100*time.Millisecond))
	if !ok || d != 100 {
		t.Fatalf("expected duration computed from the second start, got %d ok=%v", d, ok)
	}
}

func TestStartEvictsOldestAtCapacity(t *testing.T) {
	tr := NewTracker(2, 5*time.Minute)
	now := time.Now()
	tr.Start("a", now)
	tr.Start("b", now)
	tr.Start("c", now) // evicts "a"

	if _, ok := tr.End("a", now); ok {
		t.Fatalf("expected 'a' to have been evicted")
	}
	if _, ok := tr.End("b", now); !ok {
		t.Fatalf("expected 'b' to survive")
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	tr := NewTracker(100, 10*time.Millisecond)
	now := time.Now()
	tr.Start("a", now)

	tr.Sweep(now.Add(50 * time.Millisecond))

	if tr.Len() != 0 {
		t.Fatalf("expected expired entry to be swept")
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	tr := NewTracker(100, time.Minute)
	now := time.Now()
	tr.Start("a", now)

	tr.Sweep(now.Add(time.Second))

	if tr.Len() != 1 {
		t.Fatalf("expected fresh entry to survive sweep")
	}
}
