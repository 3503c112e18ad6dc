package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentwatch/hub/internal/bound"
	"github.com/agentwatch/hub/internal/changehash"
	"github.com/agentwatch/hub/internal/events"
	"github.com/agentwatch/hub/internal/pathsafe"
	"github.com/agentwatch/hub/internal/redact"
	"github.com/agentwatch/hub/internal/xlog"
)

const (
	planAppearPoll = 5 * time.Second
	planPollPeriod = 2 * time.Second
)

type trackedPlan struct {
	path         string
	filename     string
	lastModified int64
	contentHash  string
}

// PlanWatcher tracks markdown plans under root, emitting plan_update on
// content-hash change and plan_delete on disappearance. It also answers
// snapshot and on-demand content queries, always re-validating the
// requested path against root.
type PlanWatcher struct {
	root string
	emit func(interface{})
	log  *xlog.Logger

	mu     sync.Mutex
	tracked map[string]*trackedPlan

	health watcherHealth

	fsw  *fsnotify.Watcher
	stop chan struct{}
	once sync.Once
}

func NewPlanWatcher(root string, emit func(interface{}), log *xlog.Logger) *PlanWatcher {
	return &PlanWatcher{
		root:    root,
		emit:    emit,
		log:     log,
		tracked: make(map[string]*trackedPlan),
		stop:    make(chan struct{}),
	}
}

func (pw *PlanWatcher) Run() {
	for {
		if _, err := os.Stat(pw.root); err == nil {
			break
		}
		select {
		case <-pw.stop:
			return
		case <-time.After(planAppearPoll):
		}
	}

	if fsw, err := fsnotify.NewWatcher(); err == nil {
		pw.fsw = fsw
		defer fsw.Close()
		if err := fsw.Add(pw.root); err != nil {
			pw.log.Warnf("plan watcher: failed to watch root: %v", err)
		}
		go pw.watchEvents()
	} else {
		pw.log.Warnf("plan watcher: fsnotify unavailable, falling back to pure polling: %v", err)
	}

	pw.poll()
	ticker := time.NewTicker(planPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-pw.stop:
			return
		case <-ticker.C:
			pw.poll()
		}
	}
}

func (pw *PlanWatcher) Stop() { pw.once.Do(func() { close(pw.stop) }) }

func (pw *PlanWatcher) watchEvents() {
	for {
		select {
		case <-pw.stop:
			return
		case ev, ok := <-pw.fsw.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(ev.Name, ".md") {
				pw.pollOne(ev.Name)
			}
		case err, ok := <-pw.fsw.Errors:
			if !ok {
				return
			}
			pw.log.Warnf("plan watcher: fsnotify error: %v", err)
		}
	}
}

// Health reports this watcher's degraded/healthy/failed status based on
// recent root-directory read failures.
func (pw *PlanWatcher) Health() (status string, lastErr string) {
	return pw.health.status()
}

func (pw *PlanWatcher) poll() {
	entries, err := os.ReadDir(pw.root)
	if err != nil {
		pw.health.recordFailure(err)
		pw.log.Warnf("plan watcher: readdir %s: %v", pw.root, err)
		return
	}
	pw.health.recordSuccess()

	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(pw.root, e.Name())
		seen[path] = true
		pw.pollOne(path)
	}

	pw.mu.Lock()
	var gone []string
	for path := range pw.tracked {
		if !seen[path] {
			gone = append(gone, path)
		}
	}
	for _, path := range gone {
		delete(pw.tracked, path)
	}
	pw.mu.Unlock()

	for _, path := range gone {
		pw.emit(events.NewPlanDelete(nowISO(), path, filepath.Base(path)))
	}
}

func (pw *PlanWatcher) pollOne(path string) {
	if !pathsafe.Within(path, pw.root) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		pw.removeTracked(path)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	content := string(data)
	hash := changehash.Hash(content)
	lastModified := info.ModTime().UnixMilli()

	pw.mu.Lock()
	t, existed := pw.tracked[path]
	changed := !existed || t.contentHash != hash
	if !existed {
		t = &trackedPlan{path: path, filename: filepath.Base(path)}
		pw.tracked[path] = t
	}
	t.contentHash = hash
	t.lastModified = lastModified
	pw.mu.Unlock()

	if changed {
		sanitized := redact.Redact(bound.TruncateField(content))
		pw.emit(events.NewPlanUpdate(nowISO(), path, filepath.Base(path), sanitized, lastModified))
	}
}

func (pw *PlanWatcher) removeTracked(path string) {
	pw.mu.Lock()
	_, existed := pw.tracked[path]
	delete(pw.tracked, path)
	pw.mu.Unlock()
	if existed {
		pw.emit(events.NewPlanDelete(nowISO(), path, filepath.Base(path)))
	}
}

// GetPlanListEvent returns the current plan list, sorted by last-modified
// descending.
func (pw *PlanWatcher) GetPlanListEvent() *events.PlanListEvent {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	list := make([]events.PlanEntry, 0, len(pw.tracked))
	for _, t := range pw.tracked {
		list = append(list, events.PlanEntry{Path: t.path, Filename: t.filename, LastModified: t.lastModified})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastModified > list[j].LastModified })
	return events.NewPlanList(nowISO(), list)
}

// GetMostRecentPlanEvent returns the full content of the most recently
// modified plan, or nil if there are none.
func (pw *PlanWatcher) GetMostRecentPlanEvent() *events.PlanUpdateEvent {
	pw.mu.Lock()
	var best *trackedPlan
	for _, t := range pw.tracked {
		if best == nil || t.lastModified > best.lastModified {
			best = t
		}
	}
	pw.mu.Unlock()
	if best == nil {
		return nil
	}
	return pw.GetPlanContent(best.path)
}

// GetPlanContent reads and sanitizes the content of a single tracked plan,
// re-validating that path lies within root before touching the filesystem.
func (pw *PlanWatcher) GetPlanContent(path string) *events.PlanUpdateEvent {
	if !pathsafe.Within(path, pw.root) {
		pw.log.Warnf("plan watcher: rejected out-of-root plan request: %s", path)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		pw.log.Warnf("plan watcher: plan_request for missing path %s: %v", path, err)
		return nil
	}
	info, err := os.Stat(path)
	var lastModified int64
	if err == nil {
		lastModified = info.ModTime().UnixMilli()
	}
	sanitized := redact.Redact(bound.TruncateField(string(data)))
	return events.NewPlanUpdate(nowISO(), path, filepath.Base(path), sanitized, lastModified)
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }
