package watch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentwatch/hub/internal/bound"
	"github.com/agentwatch/hub/internal/changehash"
	"github.com/agentwatch/hub/internal/events"
	"github.com/agentwatch/hub/internal/pathsafe"
	"github.com/agentwatch/hub/internal/redact"
	"github.com/agentwatch/hub/internal/xlog"
)

const teamTaskPollPeriod = 2 * time.Second

type trackedTeam struct {
	name        string
	contentHash string
	detectedAt  time.Time
}

type trackedTaskDir struct {
	teamID      string
	contentHash string
	detectedAt  time.Time
}

// TeamTaskWatcher polls two sibling directories (teams and tasks),
// synthesizing team_update and task_update events, including empty-list
// removal signals when a tracked child disappears.
type TeamTaskWatcher struct {
	teamsRoot string
	tasksRoot string
	emit      func(interface{})
	log       *xlog.Logger

	mu    sync.Mutex
	teams map[string]*trackedTeam
	tasks map[string]*trackedTaskDir

	teamsHealth watcherHealth
	tasksHealth watcherHealth

	stop chan struct{}
	once sync.Once
}

// TeamsHealth reports the teams-root watcher's degraded/healthy/failed status.
func (w *TeamTaskWatcher) TeamsHealth() (status string, lastErr string) {
	return w.teamsHealth.status()
}

// TasksHealth reports the tasks-root watcher's degraded/healthy/failed status.
func (w *TeamTaskWatcher) TasksHealth() (status string, lastErr string) {
	return w.tasksHealth.status()
}

func NewTeamTaskWatcher(teamsRoot, tasksRoot string, emit func(interface{}), log *xlog.Logger) *TeamTaskWatcher {
	return &TeamTaskWatcher{
		teamsRoot: teamsRoot,
		tasksRoot: tasksRoot,
		emit:      emit,
		log:       log,
		teams:     make(map[string]*trackedTeam),
		tasks:     make(map[string]*trackedTaskDir),
		stop:      make(chan struct{}),
	}
}

func (w *TeamTaskWatcher) Run() {
	ticker := time.NewTicker(teamTaskPollPeriod)
	defer ticker.Stop()
	w.poll()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *TeamTaskWatcher) Stop() { w.once.Do(func() { close(w.stop) }) }

func (w *TeamTaskWatcher) poll() {
	w.pollTeams()
	w.pollTasks()
}

func (w *TeamTaskWatcher) pollTeams() {
	entries, err := os.ReadDir(w.teamsRoot)
	if err != nil {
		w.teamsHealth.recordFailure(err)
		w.mu.Lock()
		gone := make([]string, 0, len(w.teams))
		for name := range w.teams {
			gone = append(gone, name)
		}
		w.teams = make(map[string]*trackedTeam)
		w.mu.Unlock()
		for _, name := range gone {
			w.emit(events.NewTeamUpdate(nowISO(), name, nil))
		}
		return
	}
	w.teamsHealth.recordSuccess()

	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.teamsRoot, e.Name())
		if !pathsafe.Within(dir, w.teamsRoot) {
			continue
		}
		seen[e.Name()] = true
		w.pollOneTeam(e.Name(), dir)
	}
	w.reapMissing(seen, true)
}

func (w *TeamTaskWatcher) pollOneTeam(name, dir string) {
	configPath := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return
	}
	hash := changehash.Hash(string(data))

	w.mu.Lock()
	t, existed := w.teams[name]
	changed := !existed || t.contentHash != hash
	if !existed {
		t = &trackedTeam{name: name, detectedAt: time.Now()}
		w.teams[name] = t
	}
	t.contentHash = hash
	w.mu.Unlock()

	if !changed {
		return
	}

	var cfg struct {
		Members []map[string]interface{} `json:"members"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		w.log.Warnf("team watcher: invalid config.json for %s: %v", name, err)
		return
	}

	members := make([]events.TeamMember, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		nameField, ok := m["name"].(string)
		if !ok {
			continue
		}
		members = append(members, events.TeamMember{
			Name:      nameField,
			AgentID:   stringOr(m["agentId"], ""),
			AgentType: stringOr(m["agentType"], ""),
			Status:    stringOr(m["status"], ""),
		})
	}
	w.emit(events.NewTeamUpdate(nowISO(), name, members))
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func (w *TeamTaskWatcher) pollTasks() {
	entries, err := os.ReadDir(w.tasksRoot)
	if err != nil {
		w.tasksHealth.recordFailure(err)
		w.mu.Lock()
		gone := make([]string, 0, len(w.tasks))
		for id := range w.tasks {
			gone = append(gone, id)
		}
		w.tasks = make(map[string]*trackedTaskDir)
		w.mu.Unlock()
		for _, id := range gone {
			w.emit(events.NewTaskUpdate(nowISO(), id, nil))
		}
		return
	}
	w.tasksHealth.recordSuccess()

	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.tasksRoot, e.Name())
		if !pathsafe.Within(dir, w.tasksRoot) {
			continue
		}
		seen[e.Name()] = true
		w.pollOneTaskDir(e.Name(), dir)
	}
	w.reapMissing(seen, false)
}

type rawTask struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	ActiveForm  string   `json:"activeForm"`
	Status      string   `json:"status"`
	Owner       string   `json:"owner"`
	Blocks      []string `json:"blocks"`
	BlockedBy   []string `json:"blockedBy"`
}

func (w *TeamTaskWatcher) pollOneTaskDir(teamID, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var hashParts []string
	contents := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		contents[name] = data
		hashParts = append(hashParts, name, string(data))
	}
	hash := changehash.HashParts(hashParts)

	w.mu.Lock()
	t, existed := w.tasks[teamID]
	changed := !existed || t.contentHash != hash
	if !existed {
		t = &trackedTaskDir{teamID: teamID, detectedAt: time.Now()}
		w.tasks[teamID] = t
	}
	t.contentHash = hash
	w.mu.Unlock()

	if !changed {
		return
	}

	tasks := make([]events.Task, 0, len(names))
	for _, name := range names {
		data, ok := contents[name]
		if !ok {
			continue
		}
		var rt rawTask
		if err := json.Unmarshal(data, &rt); err != nil {
			w.log.Warnf("task watcher: invalid task file %s/%s: %v", teamID, name, err)
			continue
		}
		tasks = append(tasks, events.Task{
			ID:          rt.ID,
			Subject:     redact.Redact(bound.TruncateField(rt.Subject)),
			Description: redact.Redact(bound.TruncateField(rt.Description)),
			ActiveForm:  rt.ActiveForm,
			Status:      normalizeTaskStatus(rt.Status),
			Owner:       rt.Owner,
			Blocks:      rt.Blocks,
			BlockedBy:   rt.BlockedBy,
		})
	}
	w.emit(events.NewTaskUpdate(nowISO(), teamID, tasks))
}

func normalizeTaskStatus(s string) string {
	switch s {
	case "pending", "in_progress", "completed":
		return s
	default:
		return "pending"
	}
}

// CurrentTeamNames returns the names of teams currently tracked, for
// connect-time snapshot assembly. The caller re-derives full team_update
// payloads by re-reading config.json, since the watcher does not cache
// decoded member lists between polls.
func (w *TeamTaskWatcher) CurrentTeamNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.teams))
	for name := range w.teams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CurrentTaskTeamIDs returns the team ids with currently tracked task
// directories, mirroring CurrentTeamNames for the tasks side.
func (w *TeamTaskWatcher) CurrentTaskTeamIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tasks))
	for id := range w.tasks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SnapshotTeamUpdate re-reads and re-parses a single team's config.json,
// returning the event that would be emitted on change, for use by the
// connect-time snapshot builder. Returns nil if the team is no longer
// present.
func (w *TeamTaskWatcher) SnapshotTeamUpdate(name string) *events.TeamUpdateEvent {
	dir := filepath.Join(w.teamsRoot, name)
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil
	}
	var cfg struct {
		Members []map[string]interface{} `json:"members"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	members := make([]events.TeamMember, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		nameField, ok := m["name"].(string)
		if !ok {
			continue
		}
		members = append(members, events.TeamMember{
			Name:      nameField,
			AgentID:   stringOr(m["agentId"], ""),
			AgentType: stringOr(m["agentType"], ""),
			Status:    stringOr(m["status"], ""),
		})
	}
	return events.NewTeamUpdate(nowISO(), name, members)
}

// SnapshotTaskUpdate re-reads a task directory's files, returning the event
// that would be emitted on change, for connect-time snapshots. Returns nil
// if the directory is no longer present.
func (w *TeamTaskWatcher) SnapshotTaskUpdate(teamID string) *events.TaskUpdateEvent {
	dir := filepath.Join(w.tasksRoot, teamID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tasks := make([]events.Task, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var rt rawTask
		if err := json.Unmarshal(data, &rt); err != nil {
			continue
		}
		tasks = append(tasks, events.Task{
			ID:          rt.ID,
			Subject:     redact.Redact(bound.TruncateField(rt.Subject)),
			Description: redact.Redact(bound.TruncateField(rt.Description)),
			ActiveForm:  rt.ActiveForm,
			Status:      normalizeTaskStatus(rt.Status),
			Owner:       rt.Owner,
			Blocks:      rt.Blocks,
			BlockedBy:   rt.BlockedBy,
		})
	}
	return events.NewTaskUpdate(nowISO(), teamID, tasks)
}

func (w *TeamTaskWatcher) reapMissing(seen map[string]bool, isTeam bool) {
	var gone []string
	w.mu.Lock()
	if isTeam {
		for name := range w.teams {
			if !seen[name] {
				gone = append(gone, name)
			}
		}
		for _, name := range gone {
			delete(w.teams, name)
		}
	} else {
		for id := range w.tasks {
			if !seen[id] {
				gone = append(gone, id)
			}
		}
		for _, id := range gone {
			delete(w.tasks, id)
		}
	}
	w.mu.Unlock()

	for _, name := range gone {
		if isTeam {
			w.emit(events.NewTeamUpdate(nowISO(), name, nil))
		} else {
			w.emit(events.NewTaskUpdate(nowISO(), name, nil))
		}
	}
}
