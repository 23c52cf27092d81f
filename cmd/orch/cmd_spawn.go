package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orch/internal/gitops"
	"orch/internal/logging"
	"orch/internal/plan"
	"orch/internal/session"
	"orch/internal/skill"
	"orch/internal/tracker"
	"orch/internal/types"
)

var (
	spawnProject     string
	spawnDir         string
	spawnSkill       string
	spawnIssues      []string
	spawnDB          string
	spawnPhases      []string
	spawnMode        string
	spawnValidation  string
	spawnInteractive bool
	spawnAllowClosed bool
)

var spawnCmd = &cobra.Command{
	Use:   "spawn [task]",
	Short: "Spawn a worker agent in a fresh tmux window",
	Long: `Plans and launches one worker: a workspace under .orch/workspace/, a
write-once SPAWN_CONTEXT.md brief, a fresh window in the project's
workers-<project> session, and a registry entry appended only after the
agent confirms readiness.

Examples:
  orch spawn "add retry logic to the fetcher" --project api --dir ~/code/api
  orch spawn --issue bd-142 --skill feature-impl --project api --dir ~/code/api
  orch spawn "trace the flaky test" --skill investigation --phases diagnosis`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSpawn,
}

func init() {
	spawnCmd.Flags().StringVar(&spawnProject, "project", "", "project short name (defaults to the directory base name)")
	spawnCmd.Flags().StringVar(&spawnDir, "dir", "", "project directory (defaults to the working directory)")
	spawnCmd.Flags().StringVar(&spawnSkill, "skill", "", "skill document applied to the worker")
	spawnCmd.Flags().StringSliceVar(&spawnIssues, "issue", nil, "linked tracker issue (repeatable; first is primary)")
	spawnCmd.Flags().StringVar(&spawnDB, "db", "", "tracker database path for cross-project issues")
	spawnCmd.Flags().StringSliceVar(&spawnPhases, "phases", nil, "narrow the skill to these phases")
	spawnCmd.Flags().StringVar(&spawnMode, "mode", "", "implementation mode: tdd or direct")
	spawnCmd.Flags().StringVar(&spawnValidation, "validation", "", "validation command the worker must run")
	spawnCmd.Flags().BoolVar(&spawnInteractive, "interactive", false, "switch the attached client to the new window")
	spawnCmd.Flags().BoolVar(&spawnAllowClosed, "allow-closed", false, "permit spawning against a closed issue")
}

func runSpawn(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	task := ""
	if len(args) > 0 {
		task = args[0]
	}
	if task == "" && len(spawnIssues) == 0 {
		return fmt.Errorf("nothing to do: give a task description or at least one --issue")
	}

	dir := spawnDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return err
	}
	project := spawnProject
	if project == "" {
		project = filepath.Base(dir)
	}

	skills := &skill.Loader{Dirs: []string{
		filepath.Join(dir, ".orch", "skills"),
		a.cfg.SkillsDir(),
	}}
	planner := plan.New(a.cfg, a.gateway, skills, logging.Component(logger, "plan"))

	p, err := planner.Plan(cmd.Context(), plan.Request{
		Task:        task,
		Project:     project,
		ProjectDir:  dir,
		Skill:       spawnSkill,
		Issues:      spawnIssues,
		DBPath:      spawnDB,
		Phases:      spawnPhases,
		Mode:        spawnMode,
		Validation:  spawnValidation,
		Interactive: spawnInteractive,
		AllowClosed: spawnAllowClosed,
	})
	if err != nil {
		// Planning rejections are user-correctable and never logged.
		var rejected *types.PlanRejectedError
		if !errors.As(err, &rejected) {
			a.logFailure("spawn", "plan", "tracker", err, map[string]string{"project": project})
		}
		return err
	}

	for _, w := range p.Warnings {
		fmt.Println(warnStyle.Render("context check: ") + w.Message)
	}

	// Preflight the project repository: sync, then refuse a dirty tree so the
	// worker never starts on top of unrelated changes. A directory that is not
	// a repository at all passes through.
	git := gitops.New(dir, a.runner)
	if err := git.Pull(cmd.Context()); err != nil {
		logger.Warn("pull before spawn failed", zap.Error(err))
		fmt.Println(warnStyle.Render("warning: ") + "pull failed: " + err.Error())
	}
	if err := git.EnsureCleanTree(cmd.Context(), nil); err != nil {
		var rejected *types.PlanRejectedError
		if errors.As(err, &rejected) {
			return err
		}
		logger.Debug("clean-tree check unavailable", zap.Error(err))
	}
	if branch, err := git.CurrentBranch(cmd.Context()); err == nil {
		fmt.Println(renderKV("branch", branch))
	}

	// Claim every linked issue before launching so no concurrent spawner
	// picks the same work while the window is coming up. A crash after this
	// point leaves in_progress issues with no registry entry, which the next
	// reconcile surfaces as orphans.
	var trOpts []tracker.Option
	if p.DBPath != "" {
		trOpts = append(trOpts, tracker.WithDB(p.DBPath))
	}
	for _, w := range tracker.Claim(cmd.Context(), a.gateway, p.Issues, trOpts...) {
		logger.Warn("issue claim", zap.String("detail", w))
		fmt.Println(warnStyle.Render("warning: ") + w)
	}

	supervisor := session.New(a.cfg, a.client, logging.Component(logger, "session"))
	agent, err := supervisor.Launch(cmd.Context(), p)
	if err != nil {
		a.logFailure("spawn", "launch", "spawn", err,
			map[string]string{"project": project, "agent": p.Name})
		return err
	}

	// Registry append is last: a failed launch must leave no registry entry.
	if err := a.registry.Register(cmd.Context(), *agent); err != nil {
		a.logFailure("spawn", "register", "registry", err,
			map[string]string{"agent": agent.ID})
		return err
	}

	// Record the workspace on the primary issue. Advisory.
	if agent.PrimaryIssue() != "" {
		if err := a.gateway.SetNotes(cmd.Context(), agent.PrimaryIssue(),
			"workspace: "+agent.Workspace, trOpts...); err != nil {
			logger.Warn("workspace note failed",
				zap.String("issue", agent.PrimaryIssue()), zap.Error(err))
		}
	}

	fmt.Println(okStyle.Render("spawned ") + idStyle.Render(agent.ID))
	fmt.Println(renderKV("session", agent.Session))
	fmt.Println(renderKV("window", agent.WindowID))
	fmt.Println(renderKV("workspace", agent.Workspace))
	if issues := agent.LinkedIssues(); len(issues) > 0 {
		fmt.Println(renderKV("issues", strings.Join(issues, ", ")))
	}
	return nil
}
