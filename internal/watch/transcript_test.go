package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentwatch/hub/internal/events"
)

func TestTranscriptWatcherExtractsThinkingBlocks(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-home-user-proj")
	os.MkdirAll(projDir, 0o755)
	transcriptPath := filepath.Join(projDir, "session-1.jsonl")

	line := `{"sessionId":"session-1","timestamp":"2025-01-01T00:00:00Z","message":{"content":[{"type":"thinking","thinking":"pondering"},{"type":"text","text":"hi"}]}}` + "\n"
	os.WriteFile(transcriptPath, []byte(line), 0o644)

	var got []*events.ThinkingEvent
	tw := NewTranscriptWatcher(root, func(e interface{}) {
		if ev, ok := e.(*events.ThinkingEvent); ok {
			got = append(got, ev)
		}
	}, testLog(), 0)

	tw.watchProjectDir(projDir)
	tw.pollAll()

	if len(got) != 1 {
		t.Fatalf("expected 1 thinking event, got %d", len(got))
	}
	if got[0].Content != "pondering" {
		t.Fatalf("unexpected content: %q", got[0].Content)
	}
	if got[0].SessionID != "session-1" {
		t.Fatalf("unexpected session id: %q", got[0].SessionID)
	}
}

func TestTranscriptWatcherOnlyProcessesNewLines(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-home-user-proj")
	os.MkdirAll(projDir, 0o755)
	transcriptPath := filepath.Join(projDir, "session-1.jsonl")

	line1 := `{"sessionId":"s1","timestamp":"2025-01-01T00:00:00Z","message":{"content":[{"type":"thinking","thinking":"first"}]}}` + "\n"
	os.WriteFile(transcriptPath, []byte(line1), 0o644)

	var count int
	tw := NewTranscriptWatcher(root, func(e interface{}) {
		if _, ok := e.(*events.ThinkingEvent); ok {
			count++
		}
	}, testLog(), 0)
	tw.watchProjectDir(projDir)
	tw.pollAll()

	if count != 1 {
		t.Fatalf("expected 1 emit after first poll, got %d", count)
	}

	line2 := `{"sessionId":"s1","timestamp":"2025-01-01T00:00:01Z","message":{"content":[{"type":"thinking","thinking":"second"}]}}` + "\n"
	f, _ := os.OpenFile(transcriptPath, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString(line2)
	f.Close()

	tw.pollAll()
	if count != 2 {
		t.Fatalf("expected 2 emits total after second poll, got %d", count)
	}
}

func TestTranscriptWatcherIgnoresMalformedLines(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-home-user-proj")
	os.MkdirAll(projDir, 0o755)
	transcriptPath := filepath.Join(projDir, "session-1.jsonl")
	os.WriteFile(transcriptPath, []byte("not json\n"), 0o644)

	var count int
	tw := NewTranscriptWatcher(root, func(e interface{}) { count++ }, testLog(), 0)
	tw.watchProjectDir(projDir)
	tw.pollAll()

	if count != 0 {
		t.Fatalf("expected malformed line to be ignored, got %d emits", count)
	}
}
