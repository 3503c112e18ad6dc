// Package events models the wire event format. Each variant in spec.md §3 is
// given its own typed constructor (a discriminated union by convention) so
// that synthesizing a subagent_mapping or connection_status event, say,
// can't accidentally carry fields that belong to tool_start. Inbound events
// posted by hook scripts are decoded through Decode, which only extracts the
// fields every validation/sanitization step in the Receiver actually needs
// and keeps the rest of the payload opaque for pass-through broadcast.
package events

import (
	"encoding/json"
	"errors"
	"regexp"
)

type Type string

const (
	ToolStart        Type = "tool_start"
	ToolEnd          Type = "tool_end"
	Thinking         Type = "thinking"
	AgentStart       Type = "agent_start"
	AgentStop        Type = "agent_stop"
	SessionStart     Type = "session_start"
	SessionStop      Type = "session_stop"
	PlanUpdate       Type = "plan_update"
	PlanDelete       Type = "plan_delete"
	PlanList         Type = "plan_list"
	TeamUpdate       Type = "team_update"
	TaskUpdate       Type = "task_update"
	SubagentMapping  Type = "subagent_mapping"
	ConnectionStatus Type = "connection_status"
)

var recognizedTypes = map[Type]bool{
	ToolStart: true, ToolEnd: true, Thinking: true,
	AgentStart: true, AgentStop: true,
	SessionStart: true, SessionStop: true,
	PlanUpdate: true, PlanDelete: true, PlanList: true,
	TeamUpdate: true, TaskUpdate: true,
	SubagentMapping: true, ConnectionStatus: true,
}

func IsRecognized(t Type) bool { return recognizedTypes[t] }

const MaxIDLen = 256

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidID reports whether s is a well-formed sessionId/agentId/toolCallId.
func ValidID(s string) bool {
	return len(s) > 0 && len(s) <= MaxIDLen && idPattern.MatchString(s)
}

var (
	ErrInvalidJSON   = errors.New("invalid event format")
	ErrMissingFields = errors.New("missing or invalid discriminator/timestamp")
)

// Wire is the decoded shape of an inbound hook event. Only the fields the
// Receiver needs to validate, correlate, or sanitize are named explicitly;
// everything else in the original payload is preserved in Extra for
// pass-through broadcast.
type Wire struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`

	SessionID     string `json:"sessionId,omitempty"`
	AgentID       string `json:"agentId,omitempty"`
	AgentName     string `json:"agentName,omitempty"`
	ParentAgentID string `json:"parentAgentId,omitempty"`
	ToolCallID    string `json:"toolCallId,omitempty"`

	Input            string `json:"input,omitempty"`
	Output           string `json:"output,omitempty"`
	Content          string `json:"content,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`

	DurationMs *int64 `json:"durationMs,omitempty"`
	Status     string `json:"status,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Decode parses raw bytes into a Wire, retaining unknown top-level fields in
// Extra so they survive re-marshaling untouched.
func Decode(raw []byte) (*Wire, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, ErrInvalidJSON
	}

	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrInvalidJSON
	}

	known := []string{
		"type", "timestamp", "sessionId", "agentId", "agentName", "parentAgentId", "toolCallId",
		"input", "output", "content", "workingDirectory", "durationMs", "status",
	}
	w.Extra = generic
	for _, k := range known {
		delete(w.Extra, k)
	}

	if w.Type == "" || w.Timestamp == "" {
		return nil, ErrMissingFields
	}
	return &w, nil
}

// Marshal re-encodes a Wire, folding Extra back into the top-level object.
func (w *Wire) Marshal() ([]byte, error) {
	out := map[string]interface{}{
		"type":      string(w.Type),
		"timestamp": w.Timestamp,
	}
	if w.SessionID != "" {
		out["sessionId"] = w.SessionID
	}
	if w.AgentID != "" {
		out["agentId"] = w.AgentID
	}
	if w.AgentName != "" {
		out["agentName"] = w.AgentName
	}
	if w.ParentAgentID != "" {
		out["parentAgentId"] = w.ParentAgentID
	}
	if w.ToolCallID != "" {
		out["toolCallId"] = w.ToolCallID
	}
	if w.Input != "" {
		out["input"] = w.Input
	}
	if w.Output != "" {
		out["output"] = w.Output
	}
	if w.Content != "" {
		out["content"] = w.Content
	}
	if w.WorkingDirectory != "" {
		out["workingDirectory"] = w.WorkingDirectory
	}
	if w.DurationMs != nil {
		out["durationMs"] = *w.DurationMs
	}
	if w.Status != "" {
		out["status"] = w.Status
	}
	for k, v := range w.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// Envelope is what actually crosses the wire to a browser client: the event
// payload plus the hub's monotonic sequence number.
type Envelope struct {
	Event interface{} `json:"event"`
	Seq   uint64      `json:"seq"`
}

// --- Synthesized event variants ---
//
// These are built internally (by the Subagent Mapper, the watchers, and the
// Hub itself) rather than decoded from untrusted input, so each gets its own
// struct with exactly the fields spec.md §3 lists for that variant.

type SubagentMappingEntry struct {
	AgentID         string `json:"agentId"`
	ParentSessionID string `json:"parentSessionId"`
	Name            string `json:"name,omitempty"`
	StartTime       string `json:"startTime"`
	Status          string `json:"status"`
	EndTime         string `json:"endTime,omitempty"`
}

type SubagentMappingEvent struct {
	Type      Type                    `json:"type"`
	Timestamp string                  `json:"timestamp"`
	Mappings  []SubagentMappingEntry  `json:"mappings"`
}

func NewSubagentMapping(ts string, mappings []SubagentMappingEntry) *SubagentMappingEvent {
	return &SubagentMappingEvent{Type: SubagentMapping, Timestamp: ts, Mappings: mappings}
}

type ConnectionStatusEvent struct {
	Type          Type   `json:"type"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	ServerVersion string `json:"serverVersion"`
	ClientCount   int    `json:"clientCount"`
}

func NewConnectionStatus(ts, status, version string, clientCount int) *ConnectionStatusEvent {
	return &ConnectionStatusEvent{Type: ConnectionStatus, Timestamp: ts, Status: status, ServerVersion: version, ClientCount: clientCount}
}

type PlanEntry struct {
	Path         string `json:"path"`
	Filename     string `json:"filename"`
	LastModified int64  `json:"lastModified"`
}

type PlanListEvent struct {
	Type      Type        `json:"type"`
	Timestamp string      `json:"timestamp"`
	Plans     []PlanEntry `json:"plans"`
}

func NewPlanList(ts string, plans []PlanEntry) *PlanListEvent {
	return &PlanListEvent{Type: PlanList, Timestamp: ts, Plans: plans}
}

type PlanUpdateEvent struct {
	Type         Type   `json:"type"`
	Timestamp    string `json:"timestamp"`
	Path         string `json:"path"`
	Filename     string `json:"filename"`
	Content      string `json:"content,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

func NewPlanUpdate(ts, path, filename, content string, lastModified int64) *PlanUpdateEvent {
	return &PlanUpdateEvent{Type: PlanUpdate, Timestamp: ts, Path: path, Filename: filename, Content: content, LastModified: lastModified}
}

type PlanDeleteEvent struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
}

func NewPlanDelete(ts, path, filename string) *PlanDeleteEvent {
	return &PlanDeleteEvent{Type: PlanDelete, Timestamp: ts, Path: path, Filename: filename}
}

type TeamMember struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId,omitempty"`
	AgentType string `json:"agentType,omitempty"`
	Status    string `json:"status"`
}

type TeamUpdateEvent struct {
	Type      Type         `json:"type"`
	Timestamp string       `json:"timestamp"`
	Team      string       `json:"team"`
	Members   []TeamMember `json:"members"`
}

func NewTeamUpdate(ts, team string, members []TeamMember) *TeamUpdateEvent {
	return &TeamUpdateEvent{Type: TeamUpdate, Timestamp: ts, Team: team, Members: members}
}

type Task struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	ActiveForm  string   `json:"activeForm,omitempty"`
	Status      string   `json:"status"`
	Owner       string   `json:"owner,omitempty"`
	Blocks      []string `json:"blocks,omitempty"`
	BlockedBy   []string `json:"blockedBy,omitempty"`
}

type TaskUpdateEvent struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	TeamID    string `json:"teamId"`
	Tasks     []Task `json:"tasks"`
}

func NewTaskUpdate(ts, teamID string, tasks []Task) *TaskUpdateEvent {
	return &TaskUpdateEvent{Type: TaskUpdate, Timestamp: ts, TeamID: teamID, Tasks: tasks}
}

// SessionStartEvent is synthesized at client connect time from the
// Transcript Watcher's observed session -> working directory map, so a
// newly connected dashboard can render already-running sessions without
// waiting for their next hook event.
type SessionStartEvent struct {
	Type             Type   `json:"type"`
	Timestamp        string `json:"timestamp"`
	SessionID        string `json:"sessionId"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

func NewSessionStart(ts, sessionID, workingDirectory string) *SessionStartEvent {
	return &SessionStartEvent{Type: SessionStart, Timestamp: ts, SessionID: sessionID, WorkingDirectory: workingDirectory}
}

type ThinkingEvent struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
}

func NewThinking(ts, content, sessionID, agentID string) *ThinkingEvent {
	return &ThinkingEvent{Type: Thinking, Timestamp: ts, Content: content, SessionID: sessionID, AgentID: agentID}
}
