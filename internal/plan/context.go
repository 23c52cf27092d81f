package plan

import (
	"fmt"
	"path"
	"strings"

	"orch/internal/skill"
	"orch/internal/types"
)

// composeSpawnContext renders the one-shot brief written into the workspace
// at spawn time. It is the sole medium conveying task, authority, scope,
// deliverables, and skill guidance to the worker, and it is write-once.
func composeSpawnContext(p *Plan, task string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TASK: %s\n", strings.TrimSpace(task))
	fmt.Fprintf(&b, "PROJECT_DIR: %s\n\n", p.ProjectDir)

	size, duration := sessionScope(p)
	fmt.Fprintf(&b, "SESSION SCOPE: %s (%s)\n\n", size, duration)

	b.WriteString("SCOPE:\n")
	b.WriteString("IN:\n")
	fmt.Fprintf(&b, "- The task above, within %s\n", p.ProjectDir)
	b.WriteString("OUT:\n")
	b.WriteString("- Changes outside the project directory\n")
	b.WriteString("- Closing tracker issues (the orchestrator closes them)\n\n")

	b.WriteString("AUTHORITY:\n")
	b.WriteString("You may decide:\n")
	b.WriteString("- Implementation approach, file layout, naming\n")
	b.WriteString("- When the task's acceptance criteria are met\n")
	b.WriteString("You must escalate (stop and report):\n")
	b.WriteString("- Destructive operations outside the workspace\n")
	b.WriteString("- Requirements conflicts or missing context\n\n")

	b.WriteString("DELIVERABLES:\n")
	for _, d := range p.Deliverables {
		line := "- " + string(d.Type)
		if d.Path != "" {
			line += ": " + d.ResolvePath(p.Name, p.Slug)
		}
		if d.Required {
			line += " (required)"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString("VERIFICATION REQUIRED:\n")
	b.WriteString("- [ ] All required deliverables exist\n")
	b.WriteString("- [ ] Tests pass (when the task includes tests)\n")
	b.WriteString("- [ ] Working tree committed and pushed\n\n")

	b.WriteString("CONTEXT AVAILABLE:\n")
	fmt.Fprintf(&b, "- %s (project source)\n", p.ProjectDir)
	fmt.Fprintf(&b, "- %s (your workspace)\n", path.Join(p.ProjectDir, p.WorkspaceRel))
	fmt.Fprintf(&b, "- %s (project knowledge and decisions)\n\n", path.Join(p.ProjectDir, ".orch"))

	b.WriteString("SESSION COMPLETE PROTOCOL:\n")
	if p.PrimaryIssue != "" {
		fmt.Fprintf(&b, "1. Comment `Phase: Complete` on %s when every deliverable is done.\n", p.PrimaryIssue)
	} else {
		b.WriteString("1. Record completion in your workspace notes when every deliverable is done.\n")
	}
	b.WriteString("2. Commit and push all work.\n")
	b.WriteString("3. Remain in this window; the orchestrator verifies and reaps.\n")

	if len(p.Issues) > 0 {
		b.WriteString("\nBEADS PROGRESS TRACKING:\n")
		b.WriteString("Linked issues:\n")
		for i, id := range p.Issues {
			if i == 0 {
				fmt.Fprintf(&b, "- %s (primary)\n", id)
			} else {
				fmt.Fprintf(&b, "- %s\n", id)
			}
		}
		fmt.Fprintf(&b, "Append progress comments of the form `Phase: <token>` to %s as you work\n", p.PrimaryIssue)
		b.WriteString("(Planning, Implementing, Validating, Complete). Never close issues yourself;\n")
		b.WriteString("the orchestrator closes them after verification.\n")
	}

	if p.Skill != nil {
		b.WriteString("\nSKILL GUIDANCE:\n")
		b.WriteString(strings.TrimRight(p.SkillContent, "\n"))
		b.WriteString("\n")
		switch p.Skill.Kind {
		case skill.KindFeature:
			b.WriteString("\nFEATURE-IMPL CONFIGURATION:\n")
			fmt.Fprintf(&b, "- phases: %s\n", phaseList(p))
			fmt.Fprintf(&b, "- mode: %s\n", modeOrDefault(p.Mode))
			fmt.Fprintf(&b, "- validation: %s\n", orDash(p.Validation))
		case skill.KindInvestigation:
			b.WriteString("\nINVESTIGATION CONFIGURATION:\n")
			fmt.Fprintf(&b, "- type: %s\n", p.Skill.Name)
			artifact := investigationArtifact(p)
			if artifact != "" {
				fmt.Fprintf(&b, "- artifact expected: %s\n", artifact)
				fmt.Fprintf(&b, "- report it with a `investigation_path: <abs-path>` comment on %s\n", p.PrimaryIssue)
			} else {
				b.WriteString("- artifact expected: none\n")
			}
		}
	}

	return b.String()
}

// sessionScope estimates the session size band from the deliverable load.
func sessionScope(p *Plan) (size, duration string) {
	switch {
	case len(p.Deliverables) >= 3 || len(p.Phases) >= 3:
		return "Large", "est. 4-8 hours"
	case len(p.Deliverables) == 2 || len(p.Issues) > 1:
		return "Medium", "est. 2-4 hours"
	default:
		return "Small", "est. 1-2 hours"
	}
}

func investigationArtifact(p *Plan) string {
	for _, d := range p.Deliverables {
		if d.Type == types.DeliverableInvestigation {
			return d.ResolvePath(p.Name, p.Slug)
		}
	}
	return ""
}

func phaseList(p *Plan) string {
	if len(p.Phases) == 0 {
		return "all"
	}
	return strings.Join(p.Phases, ", ")
}

func modeOrDefault(mode string) string {
	if mode == "" {
		return skill.ModeTDD
	}
	return mode
}

func orDash(s string) string {
	if s == "" {
		return "default"
	}
	return s
}
