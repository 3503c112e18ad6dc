package watch

import "sync"

// watcherHealth tracks consecutive poll-failure counts for a single watcher,
// grounded on the teacher's internal/monitor/health.go sourceHealth struct:
// the same discover-failure counter and threshold-based status, simplified
// to a single failure stream per watcher (the teacher tracks per-session
// parse failures too, which has no counterpart here since each watcher polls
// one root rather than many independent sources).
type watcherHealth struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastErr             string
}

const (
	degradedThreshold = 3
	failedThreshold   = 10
)

func (h *watcherHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.lastErr = ""
}

func (h *watcherHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	if err != nil {
		h.lastErr = err.Error()
	}
}

// status reports healthy/degraded/failed and the most recent error, if any.
func (h *watcherHealth) status() (status string, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.consecutiveFailures >= failedThreshold:
		return "failed", h.lastErr
	case h.consecutiveFailures >= degradedThreshold:
		return "degraded", h.lastErr
	default:
		return "healthy", h.lastErr
	}
}
