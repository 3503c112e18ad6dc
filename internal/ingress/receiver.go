// Package ingress implements the Event Receiver: the HTTP surface hook
// scripts post to (POST /event) and the operator-facing health probe
// (GET /health). Structurally this follows the teacher's internal/ws
// server.go handler shape (method check, JSON response, explicit
// Content-Type) generalized from session/stats endpoints to the hub's
// single untrusted ingestion path.
package ingress

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/agentwatch/hub/internal/bound"
	"github.com/agentwatch/hub/internal/correlate"
	"github.com/agentwatch/hub/internal/events"
	"github.com/agentwatch/hub/internal/health"
	"github.com/agentwatch/hub/internal/hub"
	"github.com/agentwatch/hub/internal/ratelimit"
	"github.com/agentwatch/hub/internal/redact"
	"github.com/agentwatch/hub/internal/xlog"
)

// Broadcaster is the subset of *hub.Hub the Receiver depends on, kept narrow
// for testability.
type Broadcaster interface {
	Broadcast(event interface{})
	ClientCount() int
}

var _ Broadcaster = (*hub.Hub)(nil)

// WatcherHealth is one watcher's degraded/healthy/failed status, surfaced on
// GET /health's "watchers" field. Grounded on the teacher's sourceHealth
// status taxonomy in internal/monitor/health.go.
type WatcherHealth struct {
	Status   string `json:"status"`
	LastError string `json:"lastError,omitempty"`
}

// Receiver implements the /event and /health HTTP handlers.
type Receiver struct {
	broadcaster    Broadcaster
	mapper         *correlate.Mapper
	tracker        *correlate.Tracker
	limiter        *ratelimit.Limiter
	sampler        *health.Sampler
	log            *xlog.Logger
	startedAt      time.Time
	version        string
	watcherHealth  func() map[string]WatcherHealth

	mu           sync.Mutex
	eventsTotal  uint64
	eventsByType map[events.Type]uint64
}

func NewReceiver(b Broadcaster, mapper *correlate.Mapper, tracker *correlate.Tracker, limiter *ratelimit.Limiter, sampler *health.Sampler, log *xlog.Logger, version string) *Receiver {
	return &Receiver{
		broadcaster:  b,
		mapper:       mapper,
		tracker:      tracker,
		limiter:      limiter,
		sampler:      sampler,
		log:          log,
		startedAt:    time.Now(),
		version:      version,
		eventsByType: make(map[events.Type]uint64),
	}
}

// SetWatcherHealthProvider registers the callback HandleHealth uses to
// populate the "watchers" field. Optional; omitted entirely if never set.
func (rc *Receiver) SetWatcherHealthProvider(f func() map[string]WatcherHealth) {
	rc.watcherHealth = f
}

// HandleEvent implements POST /event: rate limit, bound, decode, validate,
// sanitize, correlate, broadcast, respond.
func (rc *Receiver) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	peer := peerKey(r)
	if res := rc.limiter.Check(peer, time.Now()); !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSec))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := bound.ReadBody(r.Body, bound.BodyCap)
	if err != nil {
		if err == bound.ErrBodyTooLarge {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	wire, err := events.Decode(body)
	if err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	if !events.IsRecognized(wire.Type) {
		http.Error(w, "unrecognized event type", http.StatusBadRequest)
		return
	}

	for _, id := range []string{wire.SessionID, wire.AgentID, wire.ParentAgentID, wire.ToolCallID} {
		if id != "" && !events.ValidID(id) {
			http.Error(w, "invalid id field", http.StatusBadRequest)
			return
		}
	}

	rc.sanitize(wire)
	rc.correlate(wire)

	rc.mu.Lock()
	rc.eventsTotal++
	rc.eventsByType[wire.Type]++
	rc.mu.Unlock()

	out, err := wire.Marshal()
	if err != nil {
		rc.log.Errorf("event re-marshal failure: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(out, &payload); err != nil {
		rc.log.Errorf("event payload decode failure: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rc.broadcaster.Broadcast(payload)

	if mapping := rc.synthesizeMapping(wire); mapping != nil {
		rc.broadcaster.Broadcast(mapping)
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"type":    string(wire.Type),
	})
}

// sanitize truncates and redacts every free-text field before anything else
// touches the event.
func (rc *Receiver) sanitize(w *events.Wire) {
	w.Input = redact.Redact(bound.TruncateField(w.Input))
	w.Output = redact.Redact(bound.TruncateField(w.Output))
	w.Content = redact.Redact(bound.TruncateField(w.Content))
}

// correlate updates the Tool-Call Tracker and the Subagent Mapper, mutating
// wire in place (backfilling durationMs on tool_end) as a side effect.
func (rc *Receiver) correlate(w *events.Wire) {
	ts := parseTimestamp(w.Timestamp)

	switch w.Type {
	case events.ToolStart:
		if w.ToolCallID != "" {
			rc.tracker.Start(w.ToolCallID, ts)
		}
	case events.ToolEnd:
		if w.ToolCallID != "" {
			if d, ok := rc.tracker.End(w.ToolCallID, ts); ok {
				w.DurationMs = &d
			}
		}
	case events.AgentStart:
		if w.AgentID != "" {
			rc.mapper.Register(w.AgentID, w.SessionID, w.ParentAgentID, w.AgentName, ts)
		}
	case events.AgentStop:
		if w.AgentID != "" {
			status := correlate.StatusSuccess
			if w.Status == "failure" || w.Status == "error" {
				status = correlate.StatusFailure
			} else if w.Status == "cancelled" {
				status = correlate.StatusCancelled
			}
			rc.mapper.Stop(w.AgentID, status, ts, nil)
		}
	case events.SessionStop:
		if w.SessionID != "" {
			rc.mapper.SessionCleanup(w.SessionID)
		}
	}
}

// synthesizeMapping builds a subagent_mapping event for the session affected
// by an agent_start/agent_stop/session_stop, so every client's local mapping
// state stays in sync without re-polling.
func (rc *Receiver) synthesizeMapping(w *events.Wire) *events.SubagentMappingEvent {
	if w.SessionID == "" {
		return nil
	}
	switch w.Type {
	case events.AgentStart, events.AgentStop, events.SessionStop:
	default:
		return nil
	}

	records := rc.mapper.BySession(w.SessionID)
	entries := make([]events.SubagentMappingEntry, 0, len(records))
	for _, rec := range records {
		entry := events.SubagentMappingEntry{
			AgentID:         rec.AgentID,
			ParentSessionID: rec.ParentSessionID,
			Name:            rec.Name,
			StartTime:       rec.StartTime.UTC().Format(time.RFC3339),
			Status:          string(rec.Status),
		}
		if rec.HasEndTime {
			entry.EndTime = rec.EndTime.UTC().Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}
	return events.NewSubagentMapping(time.Now().UTC().Format(time.RFC3339), entries)
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}

// healthResponse is the GET /health payload.
type healthResponse struct {
	Status       string                   `json:"status"`
	Version      string                   `json:"version"`
	UptimeMs     int64                    `json:"uptimeMs"`
	Connections  int                      `json:"connections"`
	EventsTotal  uint64                   `json:"eventsReceived"`
	EventsByType map[string]uint64        `json:"eventsByType"`
	Watchers     map[string]WatcherHealth `json:"watchers,omitempty"`
	Timestamp    string                   `json:"timestamp"`
	ProcessPID   int32                    `json:"processPid,omitempty"`
	CPUPercent   float64                  `json:"cpuPercent,omitempty"`
	MemoryRSS    uint64                   `json:"memoryRssBytes,omitempty"`
}

// HandleHealth implements GET /health. It is never rate limited.
func (rc *Receiver) HandleHealth(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	total := rc.eventsTotal
	byType := make(map[string]uint64, len(rc.eventsByType))
	for t, n := range rc.eventsByType {
		byType[string(t)] = n
	}
	rc.mu.Unlock()

	resp := healthResponse{
		Status:       "ok",
		Version:      rc.version,
		UptimeMs:     time.Since(rc.startedAt).Milliseconds(),
		Connections:  rc.broadcaster.ClientCount(),
		EventsTotal:  total,
		EventsByType: byType,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if rc.sampler != nil {
		snap := rc.sampler.Sample()
		resp.ProcessPID = snap.PID
		resp.CPUPercent = snap.CPUPercent
		resp.MemoryRSS = snap.MemoryRSS
	}
	if rc.watcherHealth != nil {
		resp.Watchers = rc.watcherHealth()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func peerKey(r *http.Request) string {
	return r.RemoteAddr
}
