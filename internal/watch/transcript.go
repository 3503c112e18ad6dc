// Package watch holds the three filesystem watchers: Transcript, Plan, and
// Team/Task. Each follows the teacher's monitor package in spirit (ticker-
// driven polling with incremental state per tracked entity) but none of them
// share teacher code directly, since the teacher tails Claude transcripts
// for gamification stats rather than for dashboard events.
package watch

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentwatch/hub/internal/bound"
	"github.com/agentwatch/hub/internal/events"
	"github.com/agentwatch/hub/internal/pathsafe"
	"github.com/agentwatch/hub/internal/redact"
	"github.com/agentwatch/hub/internal/xlog"
)

const (
	transcriptAppearPoll = 5 * time.Second
	transcriptPollPeriod = time.Second
)

type trackedTranscript struct {
	path      string
	lineCount int
}

// TranscriptWatcher tails JSONL transcript files under root, extracting
// "thinking" blocks and emitting sanitized thinking events.
type TranscriptWatcher struct {
	root      string
	emit      func(interface{})
	log       *xlog.Logger
	pollEvery time.Duration

	mu       sync.Mutex
	files    map[string]*trackedTranscript // path -> tracked state
	dirs     map[string]bool               // project subdirectories currently watched
	sessions map[string]string             // sessionId -> working directory, for connect snapshots

	health watcherHealth

	fsw *fsnotify.Watcher

	stop chan struct{}
	once sync.Once
}

func NewTranscriptWatcher(root string, emit func(interface{}), log *xlog.Logger, pollEvery time.Duration) *TranscriptWatcher {
	if pollEvery <= 0 {
		pollEvery = transcriptPollPeriod
	}
	return &TranscriptWatcher{
		root:      root,
		emit:      emit,
		log:       log,
		pollEvery: pollEvery,
		files:     make(map[string]*trackedTranscript),
		dirs:      make(map[string]bool),
		sessions:  make(map[string]string),
		stop:      make(chan struct{}),
	}
}

// Run blocks, polling and watching until Stop is called.
func (tw *TranscriptWatcher) Run() {
	for {
		if _, err := os.Stat(tw.root); err == nil {
			break
		}
		select {
		case <-tw.stop:
			return
		case <-time.After(transcriptAppearPoll):
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		tw.log.Warnf("transcript watcher: fsnotify unavailable, falling back to pure polling: %v", err)
	} else {
		tw.fsw = fsw
		defer fsw.Close()
		if err := fsw.Add(tw.root); err != nil {
			tw.log.Warnf("transcript watcher: failed to watch root %s: %v", tw.root, err)
		}
		go tw.watchEvents()
	}

	tw.bootstrap()

	ticker := time.NewTicker(tw.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-tw.stop:
			return
		case <-ticker.C:
			tw.pollAll()
		}
	}
}

func (tw *TranscriptWatcher) Stop() {
	tw.once.Do(func() { close(tw.stop) })
}

func (tw *TranscriptWatcher) bootstrap() {
	entries, err := os.ReadDir(tw.root)
	if err != nil {
		tw.log.Warnf("transcript watcher: readdir %s: %v", tw.root, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tw.watchProjectDir(filepath.Join(tw.root, e.Name()))
	}
}

func (tw *TranscriptWatcher) watchProjectDir(dir string) {
	if !pathsafe.Within(dir, tw.root) {
		return
	}
	tw.mu.Lock()
	if tw.dirs[dir] {
		tw.mu.Unlock()
		return
	}
	tw.dirs[dir] = true
	tw.mu.Unlock()

	if tw.fsw != nil {
		tw.fsw.Add(dir)
	}
	tw.scanProjectDir(dir)
}

func (tw *TranscriptWatcher) scanProjectDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			sub := filepath.Join(dir, e.Name())
			if e.Name() == "subagents" {
				tw.scanProjectDir(sub)
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".jsonl") {
			tw.trackFile(filepath.Join(dir, e.Name()))
		}
	}
}

func (tw *TranscriptWatcher) trackFile(path string) {
	if !pathsafe.Within(path, tw.root) {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if _, ok := tw.files[path]; !ok {
		tw.files[path] = &trackedTranscript{path: path}
	}
}

func (tw *TranscriptWatcher) watchEvents() {
	for {
		select {
		case <-tw.stop:
			return
		case ev, ok := <-tw.fsw.Events:
			if !ok {
				return
			}
			tw.handleFsEvent(ev)
		case err, ok := <-tw.fsw.Errors:
			if !ok {
				return
			}
			tw.log.Warnf("transcript watcher: fsnotify error: %v", err)
		}
	}
}

func (tw *TranscriptWatcher) handleFsEvent(ev fsnotify.Event) {
	info, err := os.Stat(ev.Name)
	if err == nil && info.IsDir() {
		tw.watchProjectDir(ev.Name)
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && strings.HasSuffix(ev.Name, ".jsonl") {
		tw.trackFile(ev.Name)
		return
	}
	if ev.Op&fsnotify.Remove != 0 {
		tw.dropRemovedDir(ev.Name)
	}
}

func (tw *TranscriptWatcher) dropRemovedDir(dir string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.dirs[dir] {
		return
	}
	delete(tw.dirs, dir)
	prefix := dir + string(filepath.Separator)
	for p := range tw.files {
		if strings.HasPrefix(p, prefix) {
			delete(tw.files, p)
		}
	}
	if tw.fsw != nil {
		tw.fsw.Remove(dir)
	}
}

// Health reports this watcher's degraded/healthy/failed status based on
// recent root-directory read failures.
func (tw *TranscriptWatcher) Health() (status string, lastErr string) {
	return tw.health.status()
}

func (tw *TranscriptWatcher) pollAll() {
	if _, err := os.Stat(tw.root); err != nil {
		tw.health.recordFailure(err)
	} else {
		tw.health.recordSuccess()
	}

	tw.mu.Lock()
	tracked := make([]*trackedTranscript, 0, len(tw.files))
	for _, t := range tw.files {
		tracked = append(tracked, t)
	}
	tw.mu.Unlock()

	for _, t := range tracked {
		tw.pollFile(t)
	}
}

func (tw *TranscriptWatcher) pollFile(t *trackedTranscript) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	lines := nonEmptyLines(data)
	if len(lines) <= t.lineCount {
		return
	}
	newLines := lines[t.lineCount:]
	t.lineCount = len(lines)

	sessionWD := sessionWorkingDirFromPath(t.path)
	for _, line := range newLines {
		tw.processLine(line, sessionWD)
	}
}

func nonEmptyLines(data []byte) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

type transcriptLine struct {
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	AgentID   string          `json:"agentId"`
	Message   json.RawMessage `json:"message"`
}

type messageEnvelope struct {
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"` // one level of sidecar wrapping
}

type thinkingBlock struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

func (tw *TranscriptWatcher) processLine(line string, sessionWD string) {
	var tl transcriptLine
	if err := json.Unmarshal([]byte(line), &tl); err != nil {
		return
	}

	for _, block := range extractThinkingBlocks(tl.Message) {
		ts := tl.Timestamp
		if ts == "" {
			ts = time.Now().UTC().Format(time.RFC3339)
		}
		content := redact.Redact(bound.TruncateField(block.Thinking))
		ev := events.NewThinking(ts, content, tl.SessionID, tl.AgentID)
		tw.emit(ev)
	}
	if tl.SessionID != "" && sessionWD != "" {
		tw.mu.Lock()
		tw.sessions[tl.SessionID] = sessionWD
		tw.mu.Unlock()
	}
}

// KnownSessions returns the sessionId -> workingDirectory map built from
// observed transcripts, consumed by the connect-time snapshot to emit
// session_start events.
func (tw *TranscriptWatcher) KnownSessions() map[string]string {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	out := make(map[string]string, len(tw.sessions))
	for k, v := range tw.sessions {
		out[k] = v
	}
	return out
}

// extractThinkingBlocks descends into message.content[*] and, for the
// subagent sidecar format, one additional level of message wrapping.
func extractThinkingBlocks(raw json.RawMessage) []thinkingBlock {
	if raw == nil {
		return nil
	}
	var env messageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}

	var out []thinkingBlock
	out = append(out, blocksFromContent(env.Content)...)
	if env.Message != nil {
		var inner messageEnvelope
		if err := json.Unmarshal(env.Message, &inner); err == nil {
			out = append(out, blocksFromContent(inner.Content)...)
		}
	}
	return out
}

func blocksFromContent(content json.RawMessage) []thinkingBlock {
	if content == nil {
		return nil
	}
	var blocks []thinkingBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil
	}
	var out []thinkingBlock
	for _, b := range blocks {
		if b.Type == "thinking" {
			out = append(out, b)
		}
	}
	return out
}

// sessionWorkingDirFromPath decodes the project-directory dash-encoding
// scheme (e.g. -home-user-proj) back into a best-effort working directory,
// used to populate session_start snapshots.
func sessionWorkingDirFromPath(transcriptPath string) string {
	dir := filepath.Dir(transcriptPath)
	if filepath.Base(dir) == "subagents" {
		dir = filepath.Dir(dir)
	}
	projectDir := filepath.Base(dir)
	if projectDir == "" || !strings.HasPrefix(projectDir, "-") {
		return ""
	}
	return strings.ReplaceAll(projectDir, "-", "/")
}
