// Package correlate holds the two pieces of in-memory state that tie
// independent hook events together: the Subagent Mapper (which agent belongs
// to which session) and the Tool-Call Tracker (which tool invocation a
// tool_end event closes out). Both follow the sync.RWMutex-guarded map shape
// the teacher uses for its session store.
package correlate

import (
	"sync"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// AgentRecord is the external representation of a tracked agent. It never
// includes the pending-removal timer handle.
type AgentRecord struct {
	AgentID         string
	ParentSessionID string
	ParentAgentID   string
	Name            string
	StartTime       time.Time
	Status          Status
	EndTime         time.Time
	HasEndTime      bool
}

type agentEntry struct {
	record      AgentRecord
	removalTimer *time.Timer
}

// Mapper is the Subagent Mapper: a bidirectional index between agent id and
// parent session id, with delayed removal after an agent stops.
type Mapper struct {
	mu            sync.RWMutex
	agents        map[string]*agentEntry
	sessionAgents map[string]map[string]struct{}
	removalDelay  time.Duration
}

func NewMapper(removalDelay time.Duration) *Mapper {
	return &Mapper{
		agents:        make(map[string]*agentEntry),
		sessionAgents: make(map[string]map[string]struct{}),
		removalDelay:  removalDelay,
	}
}

// Register inserts or replaces the record for aid. If aid was already
// tracked with a pending removal, that timer is cancelled and the record is
// reset to running.
func (m *Mapper) Register(aid, sid, parentAid, name string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.agents[aid]; ok {
		if existing.removalTimer != nil {
			existing.removalTimer.Stop()
			existing.removalTimer = nil
		}
		if oldSid := existing.record.ParentSessionID; oldSid != sid {
			if set, ok := m.sessionAgents[oldSid]; ok {
				delete(set, aid)
				if len(set) == 0 {
					delete(m.sessionAgents, oldSid)
				}
			}
		}
		existing.record = AgentRecord{
			AgentID:         aid,
			ParentSessionID: sid,
			ParentAgentID:   parentAid,
			Name:            name,
			StartTime:       t,
			Status:          StatusRunning,
		}
		m.addToSession(sid, aid)
		return
	}

	m.agents[aid] = &agentEntry{
		record: AgentRecord{
			AgentID:         aid,
			ParentSessionID: sid,
			ParentAgentID:   parentAid,
			Name:            name,
			StartTime:       t,
			Status:          StatusRunning,
		},
	}
	m.addToSession(sid, aid)
}

func (m *Mapper) addToSession(sid, aid string) {
	set, ok := m.sessionAgents[sid]
	if !ok {
		set = make(map[string]struct{})
		m.sessionAgents[sid] = set
	}
	set[aid] = struct{}{}
}

// Stop marks aid with a terminal status and schedules removal after the
// mapper's removal delay. onRemove, if non-nil, runs when the timer fires
// and the entry is actually removed.
func (m *Mapper) Stop(aid string, status Status, t time.Time, onRemove func()) {
	m.mu.Lock()
	entry, ok := m.agents[aid]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.record.Status = status
	entry.record.EndTime = t
	entry.record.HasEndTime = true
	if entry.removalTimer != nil {
		entry.removalTimer.Stop()
	}
	entry.removalTimer = time.AfterFunc(m.removalDelay, func() {
		m.removeIfUnchanged(aid, entry)
		if onRemove != nil {
			onRemove()
		}
	})
	m.mu.Unlock()
}

func (m *Mapper) removeIfUnchanged(aid string, entry *agentEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.agents[aid]
	if !ok || current != entry {
		return
	}
	sid := entry.record.ParentSessionID
	delete(m.agents, aid)
	if set, ok := m.sessionAgents[sid]; ok {
		delete(set, aid)
		if len(set) == 0 {
			delete(m.sessionAgents, sid)
		}
	}
}

// SessionCleanup cancels pending timers and removes every agent belonging to
// sid, dropping the session's index entry.
func (m *Mapper) SessionCleanup(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sessionAgents[sid]
	if !ok {
		return
	}
	for aid := range set {
		if entry, ok := m.agents[aid]; ok {
			if entry.removalTimer != nil {
				entry.removalTimer.Stop()
			}
			delete(m.agents, aid)
		}
	}
	delete(m.sessionAgents, sid)
}

// ByID returns the record for aid, if tracked.
func (m *Mapper) ByID(aid string) (AgentRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.agents[aid]
	if !ok {
		return AgentRecord{}, false
	}
	return entry.record, true
}

// ParentOf returns the parent session id for aid, if tracked.
func (m *Mapper) ParentOf(aid string) (string, bool) {
	rec, ok := m.ByID(aid)
	if !ok {
		return "", false
	}
	return rec.ParentSessionID, true
}

// BySession returns every agent record belonging to sid.
func (m *Mapper) BySession(sid string) []AgentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sessionAgents[sid]
	if !ok {
		return nil
	}
	out := make([]AgentRecord, 0, len(set))
	for aid := range set {
		if entry, ok := m.agents[aid]; ok {
			out = append(out, entry.record)
		}
	}
	return out
}

// All returns every tracked agent record. Order is unspecified.
func (m *Mapper) All() []AgentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AgentRecord, 0, len(m.agents))
	for _, entry := range m.agents {
		out = append(out, entry.record)
	}
	return out
}
