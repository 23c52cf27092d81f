// Package verify decides whether a worker may be marked complete. Gates run
// in a fixed order and the first hard failure stops evaluation with an
// actionable error; the verifier never mutates state.
package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"orch/internal/execx"
	"orch/internal/gitops"
	"orch/internal/reconcile"
	"orch/internal/skill"
	"orch/internal/tracker"
	"orch/internal/types"
)

// Options adjust a verification run. Skips are operator force flags.
type Options struct {
	SkipPhaseCheck bool
	SkipTests      bool
	SkipPushCheck  bool

	// ExcludePaths are working-tree prefixes ignored by the clean check.
	// The tracker's database directory is excluded by default.
	ExcludePaths []string
}

// DefaultExcludes are tree paths synced out-of-band.
var DefaultExcludes = gitops.DefaultExcludes

// Result is the verifier's structured outcome.
type Result struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

func (r *Result) fail(gate, detail string) {
	r.Passed = false
	r.Errors = append(r.Errors, (&types.VerifyFailure{Gate: gate, Detail: detail}).Error())
}

// Verifier evaluates completion gates.
type Verifier struct {
	gateway tracker.Gateway
	runner  execx.Runner
	logger  *zap.Logger
}

// New builds a verifier. A nil runner uses the host for git queries.
func New(gateway tracker.Gateway, runner execx.Runner, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{gateway: gateway, runner: runner, logger: logger}
}

// Verify runs the gate cascade for one agent. The caller has already
// resolved the agent from the registry; a non-active status fails the first
// gate here.
func (v *Verifier) Verify(ctx context.Context, agent *types.Agent, sk *skill.Skill, opts Options) (*Result, error) {
	res := &Result{Passed: true}

	// Gate 1: the agent must still be active for direct completion.
	if agent.Status != types.StatusActive {
		res.fail("status", fmt.Sprintf("agent is %s, not active", agent.Status))
		return res, nil
	}

	var trOpts []tracker.Option
	if agent.BeadsDBPath != "" {
		trOpts = append(trOpts, tracker.WithDB(agent.BeadsDBPath))
	}

	// Gate 2: primary issue phase.
	if !opts.SkipPhaseCheck && agent.PrimaryIssue() != "" {
		phase, err := v.gateway.LatestPhase(ctx, agent.PrimaryIssue(), trOpts...)
		if err != nil {
			return nil, err
		}
		if !types.PhaseIsComplete(phase) {
			if phase == "" {
				phase = "(none reported)"
			}
			res.fail(types.GatePhase, fmt.Sprintf("primary issue %s phase is %s, want Complete",
				agent.PrimaryIssue(), phase))
			return res, nil
		}
	}

	// Gate 3: workspace / investigation artifact presence. The worker may
	// have reported where it actually wrote the artifact; that report wins
	// over the path the brief asked for.
	var ws *Workspace
	workspaceFile := filepath.Join(agent.WorkspaceDir(), "WORKSPACE.md")
	artifact := agent.PrimaryArtifact
	if artifact != "" && agent.PrimaryIssue() != "" {
		reported, err := v.gateway.LatestInvestigationPath(ctx, agent.PrimaryIssue(), trOpts...)
		if err != nil {
			v.logger.Debug("investigation path lookup failed", zap.Error(err))
		} else if reported != "" {
			artifact = resolveUnder(agent.ProjectDir, reported)
		}
	}
	switch {
	case artifact != "":
		phase, err := reconcile.ArtifactPhase(artifact)
		if err != nil {
			res.fail(types.GateInvestigation,
				fmt.Sprintf("artifact %s unreadable: %v", artifact, err))
			return res, nil
		}
		if !types.PhaseIsComplete(phase) {
			res.fail(types.GateInvestigation,
				fmt.Sprintf("artifact %s phase is %q, want Complete", artifact, phase))
			return res, nil
		}
	case sk.HasDeliverable(types.DeliverableWorkspace):
		if !existsUnder(agent.ProjectDir, filepath.Join(agent.Workspace, "WORKSPACE.md")) {
			res.fail(types.GateWorkspace, fmt.Sprintf("workspace file %s missing", workspaceFile))
			return res, nil
		}
		var err error
		if ws, err = ParseWorkspace(workspaceFile); err != nil {
			res.fail(types.GateWorkspace, fmt.Sprintf("workspace file unparseable: %v", err))
			return res, nil
		}
	}

	// Gate 4: required deliverables.
	git := gitops.New(agent.ProjectDir, v.runner)
	for _, d := range deliverablesOf(sk) {
		if !d.Required {
			continue
		}
		if d.Type == types.DeliverableCommits {
			found, err := git.HasCommitMentioning(ctx, agent.ID)
			if err != nil {
				return nil, err
			}
			if !found {
				res.fail(types.GateDeliverable,
					fmt.Sprintf("no commit references workspace %s", agent.ID))
				return res, nil
			}
			continue
		}
		slug := agent.Slug
		if slug == "" {
			slug = agent.ID
		}
		rel := d.ResolvePath(agent.ID, slug)
		if !existsUnder(agent.ProjectDir, rel) {
			res.fail(types.GateDeliverable,
				fmt.Sprintf("missing %s deliverable at %s", d.Type, resolveUnder(agent.ProjectDir, rel)))
			return res, nil
		}
	}

	// Gate 5: pending actions.
	if ws != nil && len(ws.PendingActions) > 0 {
		res.fail(types.GatePendingActions,
			fmt.Sprintf("unchecked next actions: %s", strings.Join(ws.PendingActions, "; ")))
		return res, nil
	}

	// Gate 6: declared test results.
	if !opts.SkipTests && sk != nil && sk.DeclaresTests && ws != nil {
		switch {
		case !ws.TestsReported:
			res.fail(types.GateTests, "workspace reports no test results")
			return res, nil
		case !ws.TestsPassed:
			res.fail(types.GateTests, fmt.Sprintf("tests failing: %s", ws.TestSummary))
			return res, nil
		}
	}

	// Gate 7: clean, pushed working tree.
	exclude := opts.ExcludePaths
	if exclude == nil {
		exclude = DefaultExcludes
	}
	clean, dirty, err := git.IsClean(ctx, exclude)
	if err != nil {
		return nil, err
	}
	if !clean {
		res.fail(types.GateCommits,
			fmt.Sprintf("working tree not clean: %s", strings.Join(dirty, "; ")))
		return res, nil
	}
	if !opts.SkipPushCheck {
		ahead, err := git.AheadCount(ctx)
		if err != nil {
			return nil, err
		}
		if ahead > 0 {
			res.fail(types.GateCommits, fmt.Sprintf("%d commit(s) not pushed", ahead))
			return res, nil
		}
	}

	return res, nil
}

func deliverablesOf(sk *skill.Skill) []types.Deliverable {
	if sk == nil {
		return nil
	}
	return sk.Deliverables
}
