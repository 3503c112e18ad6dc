// Package config loads hub configuration entirely from the environment, per
// spec.md §6. Structurally this follows the teacher's internal/config
// (defaults-first, explicit override), but the source is env vars rather
// than a YAML file -- there is no on-disk config document in this system.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agentwatch/hub/internal/xlog"
)

const (
	DefaultEventPort  = 3355
	DefaultStaticPort = 3356

	DefaultTruncateCap   = 10 * 1024        // ~10 KiB per textual field
	DefaultBodyCap       = 5 * 1024 * 1024  // 5 MiB streamed HTTP body cap
	DefaultRedactorCap   = 50 * 1024        // ~50 KiB regex scan cap
	DefaultFrameCap      = 100 * 1024       // 100 KiB inbound WS frame cap
	DefaultMaxClients    = 10
	DefaultClientMsgRate = 100 // inbound messages per rolling window
	DefaultClientWindow  = time.Second

	DefaultRateLimitMax    = 100
	DefaultRateLimitWindow = time.Second
	DefaultSweepInterval   = 60 * time.Second

	DefaultToolCallCap = 10000
	DefaultToolCallTTL = 5 * time.Minute

	DefaultSubagentRemovalDelay = 5 * time.Minute

	DefaultHeartbeatInterval = 30 * time.Second

	DefaultPlanPollInterval     = 2 * time.Second
	DefaultTeamTaskPollInterval = 2 * time.Second

	DefaultThinkingPollInterval = time.Second
	MinThinkingPollInterval     = 100 * time.Millisecond
	MaxThinkingPollInterval     = 10 * time.Second
)

// Config holds all environment-derived and default settings for a single
// hub process. There is no config file: spec.md §6 names exactly three
// recognized environment variables, everything else is a fixed default.
type Config struct {
	LogLevel  xlog.Level
	LogFormat xlog.Format

	ThinkingPollInterval time.Duration

	EventPort  int
	StaticPort int

	ProjectsRoot string
	PlansRoot    string
	TeamsRoot    string
	TasksRoot    string
}

// Load reads the recognized environment variables and fills in defaults for
// everything else.
func Load() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	claudeDir := filepath.Join(home, ".claude")

	cfg := &Config{
		LogLevel:             xlog.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogFormat:            xlog.ParseFormat(os.Getenv("LOG_FORMAT")),
		ThinkingPollInterval: DefaultThinkingPollInterval,
		EventPort:            DefaultEventPort,
		StaticPort:           DefaultStaticPort,
		ProjectsRoot:         filepath.Join(claudeDir, "projects"),
		PlansRoot:            filepath.Join(claudeDir, "plans"),
		TeamsRoot:            filepath.Join(claudeDir, "teams"),
		TasksRoot:            filepath.Join(claudeDir, "tasks"),
	}

	if v := os.Getenv("THINKING_POLL_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			d := time.Duration(ms) * time.Millisecond
			cfg.ThinkingPollInterval = clampDuration(d, MinThinkingPollInterval, MaxThinkingPollInterval)
		}
	}

	return cfg
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// AllowedOrigins returns the two origins the Broadcast Hub accepts, derived
// from the static asset port per spec.md §4.9.
func (c *Config) AllowedOrigins() []string {
	return []string{
		"http://localhost:" + strconv.Itoa(c.StaticPort),
		"http://127.0.0.1:" + strconv.Itoa(c.StaticPort),
	}
}
