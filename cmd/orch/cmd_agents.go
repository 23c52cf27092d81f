package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"orch/internal/types"
)

var agentsAll bool

var agentsCmd = &cobra.Command{
	Use:   "agents [id-or-issue]",
	Short: "List supervised agents, or show one in detail",
	Long: `Without arguments, lists active agents from the registry. With an agent
id or a linked issue id, shows the full record. Terminal agents are kept
forever; --all includes them in the listing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsAll, "all", false, "include completed, abandoned, and failed agents")
}

func runAgents(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return showAgent(cmd, a, args[0])
	}
	return listAgents(cmd, a)
}

func listAgents(cmd *cobra.Command, a *app) error {
	var agents []types.Agent
	var err error
	if agentsAll {
		agents, err = a.registry.List(cmd.Context())
	} else {
		agents, err = a.registry.ListActive(cmd.Context())
	}
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println(subtleStyle.Render("no agents"))
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-42s %-10s %-14s %-12s %s",
		"AGENT", "STATUS", "PROJECT", "ISSUE", "AGE")))
	for _, agent := range agents {
		fmt.Printf("%-42s %-19s %-14s %-12s %s\n",
			idStyle.Render(agent.ID),
			renderStatus(agent.Status),
			agent.Project,
			agent.PrimaryIssue(),
			age(agent.SpawnedAt))
	}
	return nil
}

func showAgent(cmd *cobra.Command, a *app, key string) error {
	agent, err := a.registry.Find(cmd.Context(), key)
	if err != nil {
		return err
	}

	fmt.Println(idStyle.Render(agent.ID) + "  " + renderStatus(agent.Status))
	fmt.Println(renderKV("task", agent.Task))
	fmt.Println(renderKV("project", agent.Project+" ("+agent.ProjectDir+")"))
	fmt.Println(renderKV("workspace", agent.Workspace))
	fmt.Println(renderKV("session", agent.Session+" / "+agent.WindowID))
	if agent.Skill != "" {
		fmt.Println(renderKV("skill", agent.Skill))
	}
	if issues := agent.LinkedIssues(); len(issues) > 0 {
		fmt.Println(renderKV("issues", strings.Join(issues, ", ")))
	}
	if agent.BeadsDBPath != "" {
		fmt.Println(renderKV("tracker db", agent.BeadsDBPath))
	}
	fmt.Println(renderKV("spawned", agent.SpawnedAt.Format(time.RFC3339)))
	if agent.CompletedAt != nil {
		fmt.Println(renderKV("completed", agent.CompletedAt.Format(time.RFC3339)))
	}
	if agent.TerminatedAt != nil {
		fmt.Println(renderKV("terminated", agent.TerminatedAt.Format(time.RFC3339)))
	}
	if c := agent.Completion; c != nil {
		if len(c.IssuesClosed) > 0 {
			fmt.Println(renderKV("issues closed", strings.Join(c.IssuesClosed, ", ")))
		}
		if c.WorkspaceCleaned {
			fmt.Println(renderKV("workspace", "cleaned"))
		}
		if len(c.Warnings) > 0 {
			fmt.Print(renderWarnings(c.Warnings))
		}
	}
	return nil
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
