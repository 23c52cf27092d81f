package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reapForce bool

var reapCmd = &cobra.Command{
	Use:   "reap [id-or-issue]",
	Short: "Shut an agent down without verifying its deliverables",
	Long: `Runs the shutdown cascade directly: interrupt, exit command, window
kill, workspace cleanup, issue closure, registry update. Use 'complete'
instead when the agent's work should be verified first.`,
	Args: cobra.ExactArgs(1),
	RunE: runReap,
}

func init() {
	reapCmd.Flags().BoolVar(&reapForce, "force", false, "record failed status if shutdown gets stuck")
}

func runReap(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	agent, err := a.registry.Find(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if agent.Status.Terminal() {
		return fmt.Errorf("agent %s is already %s", agent.ID, agent.Status)
	}
	sk := loadAgentSkill(a, agent)

	outcome, err := runReapCascade(cmd.Context(), a, agent, sk, reapForce)
	if err != nil {
		a.logFailure("reap", "", "reap", err, map[string]string{"agent": agent.ID})
		return err
	}
	printOutcome(agent, outcome)
	return nil
}
