// Package reap stages the disposal of a worker: graceful interrupt, exit
// command, forced window kill, workspace cleanup, tracker closure, and last
// of everything the registry mutation. If any earlier step fails partway the
// agent remains active and a later reap retries from scratch.
package reap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orch/internal/proc"
	"orch/internal/registry"
	"orch/internal/skill"
	"orch/internal/tmux"
	"orch/internal/tracker"
	"orch/internal/types"
)

// Step names the cascade states in order.
type Step string

const (
	StepDetecting  Step = "detecting"
	StepInterrupt  Step = "interrupting"
	StepExiting    Step = "exiting"
	StepKilling    Step = "killing"
	StepCleaning   Step = "cleaning_workspace"
	StepClosing    Step = "closing_tracker"
	StepCommitting Step = "committing"
)

// CloseReason is the canonical reason recorded on closed issues.
const CloseReason = "completed by orchestrator"

// StepResult records one state's outcome for operator reasoning about
// partial reaps.
type StepResult struct {
	Step    Step
	OK      bool
	Skipped bool
	Detail  string
}

// Outcome summarizes a finished cascade.
type Outcome struct {
	Steps            []StepResult
	Status           types.AgentStatus
	WorkspaceCleaned bool
	IssuesClosed     []string
	Warnings         []string
}

// Reaper executes the cascade.
type Reaper struct {
	client    tmux.Client
	gateway   tracker.Gateway
	registry  *registry.Registry
	inspector proc.Inspector
	logger    *zap.Logger

	grace time.Duration
	exit  string // backend exit command
	sleep func(context.Context, time.Duration)
}

// New builds a reaper. Grace bounds each wait between escalation steps.
func New(client tmux.Client, gateway tracker.Gateway, reg *registry.Registry,
	inspector proc.Inspector, grace time.Duration, exitCommand string, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exitCommand == "" {
		exitCommand = "/exit"
	}
	return &Reaper{
		client:    client,
		gateway:   gateway,
		registry:  reg,
		inspector: inspector,
		logger:    logger,
		grace:     grace,
		exit:      exitCommand,
		sleep:     sleepCtx,
	}
}

// SetSleep overrides the inter-step wait. Test hook.
func (r *Reaper) SetSleep(fn func(context.Context, time.Duration)) { r.sleep = fn }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Reap runs the cascade for one agent. force accepts a stuck cascade by
// recording failed status instead of returning ReapStuck.
func (r *Reaper) Reap(ctx context.Context, agent *types.Agent, sk *skill.Skill, force bool) (*Outcome, error) {
	out := &Outcome{Status: types.StatusCompleted}

	windows, err := r.client.ListWindows(ctx, agent.Session)
	if err != nil {
		// Session already gone: nothing to kill, fall through to cleanup.
		r.logger.Debug("session not listable during reap",
			zap.String("session", agent.Session), zap.Error(err))
		windows = nil
	}
	window, windowLive := findWindow(windows, agent.WindowID)

	// Steps 1-3: detect children and escalate until they are gone.
	stuck := false
	if windowLive {
		children := r.children(ctx, window.PanePID)
		out.record(StepDetecting, true, fmt.Sprintf("%d live child process(es)", len(children)))

		if len(children) > 0 {
			if err := r.client.SendInterrupt(ctx, agent.Session, agent.WindowID); err == nil {
				r.sleep(ctx, r.grace)
				children = r.children(ctx, window.PanePID)
			}
			out.record(StepInterrupt, len(children) == 0,
				fmt.Sprintf("%d process(es) after interrupt", len(children)))
		} else {
			out.skip(StepInterrupt, "no child processes")
		}

		if len(children) > 0 {
			if err := r.client.SendKeys(ctx, agent.Session, agent.WindowID, r.exit, true); err == nil {
				r.sleep(ctx, r.grace)
				children = r.children(ctx, window.PanePID)
			}
			out.record(StepExiting, len(children) == 0,
				fmt.Sprintf("%d process(es) after exit command", len(children)))
		} else {
			out.skip(StepExiting, "no child processes")
		}

		// Step 4: forced kill, preserving the session via a filler window
		// when the agent's window is the last one. Sessions outlive workers.
		if len(windows) == 1 && windows[0].ID == agent.WindowID {
			filler := "filler-" + uuid.NewString()[:8]
			if _, err := r.client.NewWindow(ctx, agent.Session, filler, ""); err != nil {
				out.record(StepKilling, false, "filler window creation failed: "+err.Error())
				stuck = true
			}
		}
		if !stuck {
			if err := r.client.KillWindow(ctx, agent.Session, agent.WindowID); err != nil {
				out.record(StepKilling, false, err.Error())
				stuck = len(children) > 0
			} else {
				out.record(StepKilling, true, "window killed")
				stuck = false
			}
		}
		if stuck {
			remaining := r.children(ctx, window.PanePID)
			if len(remaining) > 0 {
				if !force {
					return out, &types.ReapStuckError{AgentID: agent.ID, Remaining: remaining}
				}
				out.Status = types.StatusFailed
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("forced past %d live process(es)", len(remaining)))
			}
		}
	} else {
		out.skip(StepDetecting, "window already gone")
		out.skip(StepInterrupt, "window already gone")
		out.skip(StepExiting, "window already gone")
		out.skip(StepKilling, "window already gone")
	}

	// Step 5: ephemeral workspace cleanup.
	if sk != nil && sk.Ephemeral {
		dir := agent.WorkspaceDir()
		if err := os.RemoveAll(dir); err != nil {
			out.record(StepCleaning, false, err.Error())
			out.Warnings = append(out.Warnings, "workspace cleanup failed: "+err.Error())
		} else {
			out.record(StepCleaning, true, "removed "+dir)
			out.WorkspaceCleaned = true
		}
	} else {
		out.skip(StepCleaning, "workspace not ephemeral")
	}

	// Step 6: close linked issues. The phase gate already ran on the
	// primary; the rest close unconditionally. Failures are warnings.
	var trOpts []tracker.Option
	if agent.BeadsDBPath != "" {
		trOpts = append(trOpts, tracker.WithDB(agent.BeadsDBPath))
	}
	preClose := len(out.Warnings)
	for _, id := range agent.LinkedIssues() {
		if err := r.gateway.Close(ctx, id, CloseReason, trOpts...); err != nil {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("closing %s failed: %v", id, err))
			continue
		}
		out.IssuesClosed = append(out.IssuesClosed, id)
	}
	out.record(StepClosing, len(out.Warnings) == preClose,
		fmt.Sprintf("%d issue(s) closed", len(out.IssuesClosed)))

	// Step 7: registry mutation, last of everything.
	err = r.registry.Update(ctx, agent.ID, func(a *types.Agent) error {
		a.Status = out.Status
		now := time.Now().UTC()
		if out.Status == types.StatusCompleted {
			a.CompletedAt = &now
		} else {
			a.TerminatedAt = &now
		}
		a.Completion = &types.Completion{
			WorkspaceCleaned: out.WorkspaceCleaned,
			IssuesClosed:     out.IssuesClosed,
			Warnings:         out.Warnings,
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	out.record(StepCommitting, true, string(out.Status))
	return out, nil
}

func (r *Reaper) children(ctx context.Context, panePID int) []int {
	if panePID <= 0 {
		return nil
	}
	children, err := r.inspector.Descendants(ctx, panePID)
	if err != nil {
		r.logger.Debug("process-tree walk failed", zap.Error(err))
		return nil
	}
	return children
}

func findWindow(windows []tmux.Window, id string) (tmux.Window, bool) {
	for _, w := range windows {
		if w.ID == id {
			return w, true
		}
	}
	return tmux.Window{}, false
}

func (o *Outcome) record(step Step, ok bool, detail string) {
	o.Steps = append(o.Steps, StepResult{Step: step, OK: ok, Detail: detail})
}

func (o *Outcome) skip(step Step, detail string) {
	o.Steps = append(o.Steps, StepResult{Step: step, Skipped: true, Detail: detail})
}
