package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"orch/internal/logging"
	"orch/internal/proc"
	"orch/internal/reap"
	"orch/internal/skill"
	"orch/internal/types"
	"orch/internal/verify"
)

var (
	completeSkipPhase bool
	completeSkipTests bool
	completeSkipPush  bool
	completeForce     bool
)

var completeCmd = &cobra.Command{
	Use:   "complete [id-or-issue]",
	Short: "Verify an agent's deliverables and reap it",
	Long: `Runs the verification gates (phase, workspace, deliverables, pending
actions, tests, clean tree) and, only if they all pass, runs the reap
cascade: graceful shutdown, workspace cleanup, issue closure, registry
update. Verification failures leave everything untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func init() {
	completeCmd.Flags().BoolVar(&completeSkipPhase, "skip-phase-check", false, "skip the tracker phase gate")
	completeCmd.Flags().BoolVar(&completeSkipTests, "skip-tests", false, "skip the test results gate")
	completeCmd.Flags().BoolVar(&completeSkipPush, "skip-push-check", false, "skip the unpushed-commits gate")
	completeCmd.Flags().BoolVar(&completeForce, "force", false, "record failed status if shutdown gets stuck")
}

func runComplete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	agent, err := a.registry.Find(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	sk := loadAgentSkill(a, agent)

	verifier := verify.New(a.gateway, a.runner, logging.Component(logger, "verify"))
	result, err := verifier.Verify(cmd.Context(), agent, sk, verify.Options{
		SkipPhaseCheck: completeSkipPhase,
		SkipTests:      completeSkipTests,
		SkipPushCheck:  completeSkipPush,
	})
	if err != nil {
		a.logFailure("complete", "verify", "verify", err, map[string]string{"agent": agent.ID})
		return err
	}
	if !result.Passed {
		for _, msg := range result.Errors {
			fmt.Println(errStyle.Render("gate failed: ") + msg)
		}
		return fmt.Errorf("verification failed for %s; nothing was changed", agent.ID)
	}
	fmt.Println(okStyle.Render("verification passed"))

	outcome, err := runReapCascade(cmd.Context(), a, agent, sk, completeForce)
	if err != nil {
		a.logFailure("complete", "reap", "reap", err, map[string]string{"agent": agent.ID})
		return err
	}
	printOutcome(agent, outcome)
	return nil
}

// loadAgentSkill resolves the agent's recorded skill. A missing or renamed
// skill degrades to nil: the verifier then applies only skill-independent
// gates.
func loadAgentSkill(a *app, agent *types.Agent) *skill.Skill {
	if agent.Skill == "" {
		return nil
	}
	loader := &skill.Loader{Dirs: []string{
		filepath.Join(agent.ProjectDir, ".orch", "skills"),
		a.cfg.SkillsDir(),
	}}
	sk, err := loader.Load(agent.Skill)
	if err != nil {
		logger.Warn("agent skill unavailable: " + err.Error())
		return nil
	}
	return sk
}

func runReapCascade(ctx context.Context, a *app, agent *types.Agent, sk *skill.Skill, force bool) (*reap.Outcome, error) {
	reaper := reap.New(a.client, a.gateway, a.registry, proc.NewPS(a.runner),
		a.cfg.GraceInterval(), a.cfg.ExitCommand, logging.Component(logger, "reap"))
	return reaper.Reap(ctx, agent, sk, force)
}

func printOutcome(agent *types.Agent, outcome *reap.Outcome) {
	verb := "reaped"
	if outcome.Status == types.StatusFailed {
		verb = "force-reaped"
	}
	fmt.Println(okStyle.Render(verb+" ") + idStyle.Render(agent.ID) +
		"  " + renderStatus(outcome.Status))
	if len(outcome.IssuesClosed) > 0 {
		fmt.Println(renderKV("issues closed", fmt.Sprintf("%d", len(outcome.IssuesClosed))))
	}
	if outcome.WorkspaceCleaned {
		fmt.Println(renderKV("workspace", "cleaned"))
	}
	fmt.Print(renderWarnings(outcome.Warnings))
}
