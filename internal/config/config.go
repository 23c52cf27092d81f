// Package config loads orchestrator settings from ~/.orch/config.json.
// Missing files yield defaults; environment variables override file values
// so scripts and tests can redirect the orchestrator home wholesale.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Env override names.
const (
	EnvHome       = "ORCH_HOME"
	EnvTrackerBin = "ORCH_TRACKER_BIN"
	EnvAgentBin   = "ORCH_AGENT_BIN"

	// EnvContext distinguishes worker processes from the orchestrator. A
	// process whose environment carries EnvContext=worker must never spawn
	// further workers.
	EnvContext       = "ORCH_CONTEXT"
	ContextWorker    = "worker"
	EnvWorkspace     = "ORCH_WORKSPACE"
	EnvProjectDir    = "ORCH_PROJECT_DIR"
	EnvMaxActive     = "ORCH_MAX_ACTIVE"
	EnvPollInterval  = "ORCH_POLL_INTERVAL_SECONDS"
)

// Config is the orchestrator's settings document.
type Config struct {
	// Home is the global orchestrator directory (~/.orch). Not persisted.
	Home string `json:"-"`

	// DatePrefixWorkspaces prefixes workspace slugs with YYYY-MM-DD-.
	DatePrefixWorkspaces bool `json:"date_prefix_workspaces"`

	// TrackerBin is the issue tracker CLI (beads).
	TrackerBin string `json:"tracker_bin"`

	// AgentBin launches the worker backend inside a window.
	AgentBin string `json:"agent_bin"`

	// ReadyPattern is the regexp matched against captured window output to
	// confirm the backend is interactive.
	ReadyPattern string `json:"ready_pattern"`

	// ExitCommand is the backend's quit command, pasted during reaping.
	ExitCommand string `json:"exit_command"`

	// OrchSession is the orchestrator's own pinned multiplexer session.
	OrchSession string `json:"orch_session"`

	TrackerTimeoutSeconds int `json:"tracker_timeout_seconds"`
	GraceSeconds          int `json:"grace_seconds"`
	ReadyTimeoutSeconds   int `json:"ready_timeout_seconds"`
	MaxActiveAgents       int `json:"max_active_agents"`
	PollIntervalSeconds   int `json:"poll_interval_seconds"`

	// SpawnContextThreshold is the quality self-check score below which the
	// planner surfaces warnings (it never blocks spawning).
	SpawnContextThreshold float64 `json:"spawn_context_threshold"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) *Config {
	return &Config{
		Home:                  home,
		DatePrefixWorkspaces:  true,
		TrackerBin:            "bd",
		AgentBin:              "opencode",
		ReadyPattern:          `(?m)^[>│] `,
		ExitCommand:           "/exit",
		OrchSession:           "orchestrator",
		TrackerTimeoutSeconds: 30,
		GraceSeconds:          10,
		ReadyTimeoutSeconds:   30,
		MaxActiveAgents:       4,
		PollIntervalSeconds:   60,
		SpawnContextThreshold: 0.8,
	}
}

// Load reads the config file under the orchestrator home, applying defaults
// for absent fields and env overrides on top.
func Load() (*Config, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		home = filepath.Join(userHome, ".orch")
	}

	cfg := Default(home)
	data, err := os.ReadFile(filepath.Join(home, "config.json"))
	switch {
	case os.IsNotExist(err):
		// Defaults stand.
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		cfg.Home = home
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvTrackerBin); v != "" {
		cfg.TrackerBin = v
	}
	if v := os.Getenv(EnvAgentBin); v != "" {
		cfg.AgentBin = v
	}
	if v := os.Getenv(EnvMaxActive); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxActiveAgents = n
		}
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollIntervalSeconds = n
		}
	}
}

// TrackerTimeout bounds every tracker CLI invocation.
func (c *Config) TrackerTimeout() time.Duration {
	return time.Duration(c.TrackerTimeoutSeconds) * time.Second
}

// GraceInterval bounds each step of the reap cascade.
func (c *Config) GraceInterval() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// ReadyTimeout bounds the readiness capture loop after launch.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSeconds) * time.Second
}

// PollInterval is the daemon's tracker polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RegistryPath is the single JSON document of record for agent identity.
func (c *Config) RegistryPath() string { return filepath.Join(c.Home, "agent-registry.json") }

// ErrorLogPath is the rolling JSONL error log (part of the error contract).
func (c *Config) ErrorLogPath() string { return filepath.Join(c.Home, "errors.jsonl") }

// FocusPath declares daemon ranking priorities. Optional.
func (c *Config) FocusPath() string { return filepath.Join(c.Home, "focus.json") }

// SessionsDir holds materialized per-project session configs.
func (c *Config) SessionsDir() string { return filepath.Join(c.Home, "sessions") }

// SkillsDir holds global skill documents.
func (c *Config) SkillsDir() string { return filepath.Join(c.Home, "skills") }

// WorkerContext reports whether the current process environment is already a
// worker context. Workers must not spawn workers.
func WorkerContext(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}
	return getenv(EnvContext) == ContextWorker
}
