package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"orch/internal/types"
)

var (
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	statusStyles = map[types.AgentStatus]lipgloss.Style{
		types.StatusActive:    okStyle,
		types.StatusCompleted: subtleStyle,
		types.StatusAbandoned: warnStyle,
		types.StatusFailed:    errStyle,
	}
)

// renderError formats a failure with an actionable hint where one exists.
func renderError(err error) string {
	var b strings.Builder
	b.WriteString(errStyle.Render("error: ") + err.Error())

	if hint := hintFor(err); hint != "" {
		b.WriteString("\n" + hintStyle.Render("hint: "+hint))
	}
	return b.String()
}

func hintFor(err error) string {
	var rejected *types.PlanRejectedError
	if errors.As(err, &rejected) {
		switch rejected.Reason {
		case types.RejectClosedIssue:
			return "the issue is closed; pass --allow-closed to spawn anyway"
		case types.RejectIssueNotFound:
			return "check the issue id, or pass --db for a cross-project tracker database"
		case types.RejectWorkerContext:
			return "run this from the orchestrator session, not from inside a worker window"
		}
	}
	var tr *types.TrackerError
	if errors.As(err, &tr) {
		switch tr.Kind {
		case types.TrackerUnavailable:
			return "install the beads CLI or set ORCH_TRACKER_BIN"
		case types.TrackerTransient:
			return "the tracker call failed transiently; retry the command"
		}
	}
	var stuck *types.ReapStuckError
	if errors.As(err, &stuck) {
		return "inspect the window manually, or re-run with --force to record the agent as failed"
	}
	var spawn *types.SpawnError
	if errors.As(err, &spawn) && spawn.Stage == "ready" {
		return "the agent backend never printed its prompt; check the window output and ready_pattern"
	}
	if errors.Is(err, types.ErrAgentNotFound) {
		return "run 'orch agents --all' to list every known agent"
	}
	return ""
}

func renderStatus(s types.AgentStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func renderWarnings(warnings []string) string {
	var b strings.Builder
	for _, w := range warnings {
		b.WriteString(warnStyle.Render("warning: ") + w + "\n")
	}
	return b.String()
}

func renderKV(key, value string) string {
	return fmt.Sprintf("  %s %s", subtleStyle.Render(key+":"), value)
}
