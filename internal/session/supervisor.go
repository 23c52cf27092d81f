// Package session launches agent processes inside fresh windows of
// per-project multiplexer sessions and confirms readiness. Workers for a
// project live in the session "workers-<project>"; the orchestrator's own
// session is separate and pinned.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"orch/internal/config"
	"orch/internal/plan"
	"orch/internal/tmux"
	"orch/internal/types"
)

// ContextFileName is the SpawnContext file written into each workspace.
const ContextFileName = "SPAWN_CONTEXT.md"

// WorkersSession derives the deterministic per-project session name.
func WorkersSession(project string) string { return "workers-" + project }

// IsWorkersSession reports whether name is a worker-pool session.
func IsWorkersSession(name string) bool { return strings.HasPrefix(name, "workers-") }

// Supervisor owns window creation, SpawnContext placement, process launch,
// and readiness confirmation. It never touches the registry: the caller
// appends after a fully successful launch, so a failure leaves at most a
// window with no registry entry for the reconciler to surface.
type Supervisor struct {
	cfg    *config.Config
	client tmux.Client
	logger *zap.Logger
	getenv func(string) string

	readyPoll time.Duration
}

// New builds a supervisor.
func New(cfg *config.Config, client tmux.Client, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		getenv:    os.Getenv,
		readyPoll: 500 * time.Millisecond,
	}
}

// SetEnv overrides environment lookup. Test hook.
func (s *Supervisor) SetEnv(getenv func(string) string) { s.getenv = getenv }

// sessionConfig is the session-manager config materialized once per project.
// Existing configs are never overwritten.
type sessionConfig struct {
	Session string `json:"session"`
	Root    string `json:"root"`
	Created string `json:"created"`
}

// EnsureSession idempotently creates the project's worker session and its
// config file.
func (s *Supervisor) EnsureSession(ctx context.Context, project, projectDir string) (string, error) {
	name := WorkersSession(project)

	cfgPath := filepath.Join(s.cfg.SessionsDir(), name+".json")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := os.MkdirAll(s.cfg.SessionsDir(), 0o755); err != nil {
			return "", &types.SpawnError{Stage: "session", Message: "creating sessions dir", Cause: err}
		}
		data, _ := json.MarshalIndent(sessionConfig{
			Session: name,
			Root:    projectDir,
			Created: time.Now().UTC().Format(time.RFC3339),
		}, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
			return "", &types.SpawnError{Stage: "session", Message: "writing session config", Cause: err}
		}
	}

	exists, err := s.client.HasSession(ctx, name)
	if err != nil {
		return "", &types.SpawnError{Stage: "session", Message: "checking session", Cause: err}
	}
	if !exists {
		if err := s.client.NewSession(ctx, name, projectDir); err != nil {
			return "", &types.SpawnError{Stage: "session", Message: "creating session", Cause: err}
		}
		s.logger.Info("created worker session", zap.String("session", name))
	}
	return name, nil
}

// Launch executes the spawn plan: window, SpawnContext, process, readiness.
// Ordering is fixed; on failure later steps are not attempted and earlier
// side effects are left for the reconciler or manual cleanup.
func (s *Supervisor) Launch(ctx context.Context, p *plan.Plan) (*types.Agent, error) {
	// Workers must not spawn workers, even when a caller skipped planning.
	if config.WorkerContext(s.getenv) {
		return nil, &types.PlanRejectedError{Reason: types.RejectWorkerContext,
			Detail: "refusing to launch from inside a worker context"}
	}

	sessionName, err := s.EnsureSession(ctx, p.Project, p.ProjectDir)
	if err != nil {
		return nil, err
	}

	window, err := s.client.NewWindow(ctx, sessionName, p.Name, p.ProjectDir)
	if err != nil {
		return nil, &types.SpawnError{Stage: "window", Message: "creating window", Cause: err}
	}
	s.logger.Info("created worker window",
		zap.String("session", sessionName),
		zap.String("window", p.Name),
		zap.String("window_id", window.ID))

	workspaceDir := filepath.Join(p.ProjectDir, p.WorkspaceRel)
	if err := s.writeSpawnContext(workspaceDir, p.SpawnContext); err != nil {
		return nil, &types.SpawnError{Stage: "context", Message: "writing spawn context", Cause: err}
	}

	if err := s.launchProcess(ctx, sessionName, window.ID, p, workspaceDir); err != nil {
		return nil, &types.SpawnError{Stage: "launch", Message: "starting agent process", Cause: err}
	}

	if err := s.awaitReady(ctx, sessionName, window.ID); err != nil {
		return nil, err
	}

	// Client-switch hint so a human attached to a sibling session can
	// follow along. Non-fatal.
	if err := s.client.SwitchClient(ctx, sessionName, window.ID); err != nil {
		s.logger.Debug("switch-client hint failed", zap.Error(err))
	}

	agent := &types.Agent{
		ID:          p.Name,
		Task:        p.Task,
		Project:     p.Project,
		ProjectDir:  p.ProjectDir,
		Workspace:   p.WorkspaceRel,
		Slug:        p.Slug,
		Session:     sessionName,
		Window:      p.Name,
		WindowID:    window.ID,
		Status:      types.StatusActive,
		BeadsID:     p.PrimaryIssue,
		BeadsDBPath: p.DBPath,
	}
	if p.Skill != nil {
		agent.Skill = p.Skill.Name
	}
	if p.PrimaryArtifact != "" {
		agent.PrimaryArtifact = filepath.Join(p.ProjectDir, p.PrimaryArtifact)
	}
	if len(p.Issues) > 1 {
		agent.BeadsIDs = p.Issues[1:]
	}
	return agent, nil
}

// writeSpawnContext materializes the workspace directory and the write-once
// brief. An existing context file is an error: the workspace is single-owner
// and the brief must never be rewritten.
func (s *Supervisor) writeSpawnContext(workspaceDir, content string) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(workspaceDir, ContextFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("spawn context already exists or is unwritable: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Sync()
}

// launchProcess types the agent command into the window with the worker
// environment markers set.
func (s *Supervisor) launchProcess(ctx context.Context, sessionName, windowID string, p *plan.Plan, workspaceDir string) error {
	cmd := fmt.Sprintf("%s=%s %s=%s %s=%s %s",
		config.EnvContext, config.ContextWorker,
		config.EnvWorkspace, shellQuote(workspaceDir),
		config.EnvProjectDir, shellQuote(p.ProjectDir),
		s.cfg.AgentBin)
	return s.client.SendKeys(ctx, sessionName, windowID, cmd, true)
}

// awaitReady polls captured window output for the backend's ready banner.
func (s *Supervisor) awaitReady(ctx context.Context, sessionName, windowID string) error {
	ready, err := regexp.Compile(s.cfg.ReadyPattern)
	if err != nil {
		return &types.SpawnError{Stage: "ready", Message: "invalid ready pattern", Cause: err}
	}

	deadline := time.Now().Add(s.cfg.ReadyTimeout())
	op := func() error {
		if time.Now().After(deadline) {
			return backoff.Permanent(types.ErrSpawnNotReady)
		}
		output, err := s.client.CapturePane(ctx, sessionName, windowID)
		if err != nil {
			return err // capture retries are idempotent
		}
		if ready.MatchString(output) {
			return nil
		}
		return fmt.Errorf("ready banner not seen yet")
	}
	bo := backoff.WithContext(backoff.NewConstantBackOff(s.readyPoll), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return &types.SpawnError{Stage: "ready",
			Message: fmt.Sprintf("no ready banner within %s", s.cfg.ReadyTimeout()), Cause: err}
	}
	return nil
}

func shellQuote(s string) string {
	if !strings.ContainsAny(s, " \t'\"\\$") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
