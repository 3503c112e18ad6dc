package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentwatch/hub/internal/events"
)

func TestTeamWatcherEmitsUpdateAndDedupes(t *testing.T) {
	teamsRoot := t.TempDir()
	tasksRoot := t.TempDir()
	teamDir := filepath.Join(teamsRoot, "alpha")
	os.MkdirAll(teamDir, 0o755)
	os.WriteFile(filepath.Join(teamDir, "config.json"), []byte(`{"members":[{"name":"bob","status":"active"}]}`), 0o644)

	var count int
	var last *events.TeamUpdateEvent
	w := NewTeamTaskWatcher(teamsRoot, tasksRoot, func(e interface{}) {
		if ev, ok := e.(*events.TeamUpdateEvent); ok {
			count++
			last = ev
		}
	}, testLog())

	w.poll()
	w.poll()

	if count != 1 {
		t.Fatalf("expected single emit across two unchanged polls, got %d", count)
	}
	if len(last.Members) != 1 || last.Members[0].Name != "bob" {
		t.Fatalf("unexpected members: %+v", last.Members)
	}
}

func TestTeamWatcherRemovalSignalOnDisappearance(t *testing.T) {
	teamsRoot := t.TempDir()
	tasksRoot := t.TempDir()
	teamDir := filepath.Join(teamsRoot, "alpha")
	os.MkdirAll(teamDir, 0o755)
	os.WriteFile(filepath.Join(teamDir, "config.json"), []byte(`{"members":[{"name":"bob"}]}`), 0o644)

	var events_ []*events.TeamUpdateEvent
	w := NewTeamTaskWatcher(teamsRoot, tasksRoot, func(e interface{}) {
		if ev, ok := e.(*events.TeamUpdateEvent); ok {
			events_ = append(events_, ev)
		}
	}, testLog())
	w.poll()

	os.RemoveAll(teamDir)
	w.poll()

	last := events_[len(events_)-1]
	if len(last.Members) != 0 {
		t.Fatalf("expected empty-member removal signal, got %+v", last)
	}
}

func TestTaskWatcherNormalizesUnknownStatus(t *testing.T) {
	teamsRoot := t.TempDir()
	tasksRoot := t.TempDir()
	taskDir := filepath.Join(tasksRoot, "team-1")
	os.MkdirAll(taskDir, 0o755)
	os.WriteFile(filepath.Join(taskDir, "t1.json"), []byte(`{"id":"t1","subject":"do thing","status":"bogus"}`), 0o644)

	var last *events.TaskUpdateEvent
	w := NewTeamTaskWatcher(teamsRoot, tasksRoot, func(e interface{}) {
		if ev, ok := e.(*events.TaskUpdateEvent); ok {
			last = ev
		}
	}, testLog())
	w.poll()

	if len(last.Tasks) != 1 || last.Tasks[0].Status != "pending" {
		t.Fatalf("expected unknown status normalized to pending, got %+v", last.Tasks)
	}
}

func TestTaskWatcherHashOverOrderedParts(t *testing.T) {
	teamsRoot := t.TempDir()
	tasksRoot := t.TempDir()
	taskDir := filepath.Join(tasksRoot, "team-1")
	os.MkdirAll(taskDir, 0o755)
	os.WriteFile(filepath.Join(taskDir, "t1.json"), []byte(`{"id":"t1","subject":"a","status":"pending"}`), 0o644)

	var count int
	w := NewTeamTaskWatcher(teamsRoot, tasksRoot, func(e interface{}) {
		if _, ok := e.(*events.TaskUpdateEvent); ok {
			count++
		}
	}, testLog())
	w.poll()
	w.poll()

	if count != 1 {
		t.Fatalf("expected dedup across unchanged polls, got %d emits", count)
	}

	os.WriteFile(filepath.Join(taskDir, "t1.json"), []byte(`{"id":"t1","subject":"a changed","status":"pending"}`), 0o644)
	w.poll()
	if count != 2 {
		t.Fatalf("expected a new emit after content change, got %d", count)
	}
}
