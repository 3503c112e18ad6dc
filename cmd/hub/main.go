// Command hub runs the agentwatch event hub: it receives hook events over
// HTTP, watches the filesystem for transcripts/plans/team and task state,
// correlates related events, and fans everything out to connected dashboard
// clients over a WebSocket broadcast channel. Wiring follows the teacher's
// cmd/server/main.go shape: load config, construct the long-lived services,
// mount routes on one ServeMux, then block in ListenAndServe with a
// signal-driven graceful shutdown.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentwatch/hub/internal/config"
	"github.com/agentwatch/hub/internal/correlate"
	"github.com/agentwatch/hub/internal/events"
	"github.com/agentwatch/hub/internal/health"
	"github.com/agentwatch/hub/internal/hub"
	"github.com/agentwatch/hub/internal/ingress"
	"github.com/agentwatch/hub/internal/ratelimit"
	"github.com/agentwatch/hub/internal/watch"
	"github.com/agentwatch/hub/internal/xlog"
)

// version is overridable at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	logger := xlog.Default(cfg.LogLevel, cfg.LogFormat)
	hub.Version = version

	mapper := correlate.NewMapper(config.DefaultSubagentRemovalDelay)
	tracker := correlate.NewTracker(config.DefaultToolCallCap, config.DefaultToolCallTTL)
	stopToolSweep := tracker.StartSweeper(config.DefaultSweepInterval)

	h := hub.New(cfg.AllowedOrigins(), logger)

	transcriptWatcher := watch.NewTranscriptWatcher(cfg.ProjectsRoot, h.Broadcast, logger, cfg.ThinkingPollInterval)
	planWatcher := watch.NewPlanWatcher(cfg.PlansRoot, h.Broadcast, logger)
	teamTaskWatcher := watch.NewTeamTaskWatcher(cfg.TeamsRoot, cfg.TasksRoot, h.Broadcast, logger)

	h.SetPlanDispatcher(func(path string, respond func(event interface{})) {
		if path == "" {
			if ev := planWatcher.GetMostRecentPlanEvent(); ev != nil {
				respond(ev)
			}
			return
		}
		if ev := planWatcher.GetPlanContent(path); ev != nil {
			respond(ev)
		}
	})

	h.SetOnConnect(func(respond func(event interface{})) {
		sendConnectSnapshot(respond, mapper, transcriptWatcher, planWatcher, teamTaskWatcher)
	})

	go transcriptWatcher.Run()
	go planWatcher.Run()
	go teamTaskWatcher.Run()

	limiter := ratelimit.New(config.DefaultRateLimitMax, config.DefaultRateLimitWindow)
	stopRateLimitSweep := limiter.StartSweeper(config.DefaultSweepInterval)

	sampler, err := health.NewSampler()
	if err != nil {
		logger.Warnf("health sampler unavailable: %v", err)
		sampler = nil
	}

	receiver := ingress.NewReceiver(h, mapper, tracker, limiter, sampler, logger, version)
	receiver.SetWatcherHealthProvider(func() map[string]ingress.WatcherHealth {
		out := make(map[string]ingress.WatcherHealth, 4)
		for name, fn := range map[string]func() (string, string){
			"transcripts": transcriptWatcher.Health,
			"plans":       planWatcher.Health,
			"teams":       teamTaskWatcher.TeamsHealth,
			"tasks":       teamTaskWatcher.TasksHealth,
		} {
			status, lastErr := fn()
			out[name] = ingress.WatcherHealth{Status: status, LastError: lastErr}
		}
		return out
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/event", receiver.HandleEvent)
	mux.HandleFunc("/health", receiver.HandleHealth)
	mux.HandleFunc("/ws", h.ServeHTTP)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.EventPort)
	server := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("shutting down")
		transcriptWatcher.Stop()
		planWatcher.Stop()
		teamTaskWatcher.Stop()
		stopToolSweep()
		stopRateLimitSweep()
		h.Shutdown()
		server.Close()
	}()

	logger.Infof("hub listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// sendConnectSnapshot replays everything a freshly connected dashboard needs
// to render current state without waiting for the next hook event: known
// sessions, the current subagent mapping, the plan list plus the most recent
// plan's content, and current team/task state.
func sendConnectSnapshot(respond func(event interface{}), mapper *correlate.Mapper, tw *watch.TranscriptWatcher, pw *watch.PlanWatcher, ttw *watch.TeamTaskWatcher) {
	now := time.Now().UTC().Format(time.RFC3339)

	for sid, wd := range tw.KnownSessions() {
		respond(events.NewSessionStart(now, sid, wd))
	}

	if records := mapper.All(); len(records) > 0 {
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
		respond(events.NewSubagentMapping(now, entries))
	}

	respond(pw.GetPlanListEvent())
	if ev := pw.GetMostRecentPlanEvent(); ev != nil {
		respond(ev)
	}

	for _, name := range ttw.CurrentTeamNames() {
		if ev := ttw.SnapshotTeamUpdate(name); ev != nil {
			respond(ev)
		}
	}
	for _, teamID := range ttw.CurrentTaskTeamIDs() {
		if ev := ttw.SnapshotTaskUpdate(teamID); ev != nil {
			respond(ev)
		}
	}
}
