package plan

import (
	"context"
	"strings"
	"testing"

	"orch/internal/types"
)

func TestSpawnContextSections(t *testing.T) {
	p := newTestPlanner(t, newFakeGateway())
	plan, err := p.Plan(context.Background(), Request{
		Task: "add rate limiting", Project: "api", ProjectDir: "/repo/api",
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	text := plan.SpawnContext
	for _, section := range []string{
		"TASK: add rate limiting",
		"PROJECT_DIR: /repo/api",
		"SESSION SCOPE:",
		"SCOPE:",
		"AUTHORITY:",
		"DELIVERABLES:",
		"VERIFICATION REQUIRED:",
		"CONTEXT AVAILABLE:",
		"SESSION COMPLETE PROTOCOL:",
	} {
		if !strings.Contains(text, section) {
			t.Errorf("spawn context missing section %q", section)
		}
	}
	if len(plan.Warnings) != 0 {
		t.Errorf("complete context should produce no warnings, got %v", plan.Warnings)
	}
}

func TestSpawnContextIssueBlock(t *testing.T) {
	gw := newFakeGateway()
	gw.issues["bd-1"] = types.Issue{ID: "bd-1", Title: "primary", Status: types.IssueOpen}
	gw.issues["bd-2"] = types.Issue{ID: "bd-2", Title: "secondary", Status: types.IssueOpen}
	p := newTestPlanner(t, gw)

	withIssues, err := p.Plan(context.Background(), Request{
		Task: "linked work", Project: "api", ProjectDir: "/repo/api",
		Issues: []string{"bd-1", "bd-2"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !strings.Contains(withIssues.SpawnContext, "BEADS PROGRESS TRACKING:") {
		t.Error("issue-linked context must carry the progress tracking block")
	}
	if !strings.Contains(withIssues.SpawnContext, "- bd-1 (primary)") {
		t.Error("primary issue must be marked")
	}
	if !strings.Contains(withIssues.SpawnContext, "- bd-2\n") {
		t.Error("secondary issue must be listed unmarked")
	}
	if !strings.Contains(withIssues.SpawnContext, "Never close issues yourself") {
		t.Error("context must forbid workers from closing issues")
	}

	without, err := p.Plan(context.Background(), Request{
		Task: "unlinked work", Project: "api", ProjectDir: "/repo/api",
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if strings.Contains(without.SpawnContext, "BEADS PROGRESS TRACKING:") {
		t.Error("unlinked context must not carry the tracking block")
	}
}

func TestSpawnContextSkillConfiguration(t *testing.T) {
	p := newTestPlanner(t, newFakeGateway())

	feature, err := p.Plan(context.Background(), Request{
		Task: "ship it", Project: "api", ProjectDir: "/repo/api",
		Skill: "feature-impl", Mode: "direct", Phases: []string{"planning", "implementation"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	text := feature.SpawnContext
	if !strings.Contains(text, "FEATURE-IMPL CONFIGURATION:") {
		t.Error("feature skill context missing configuration block")
	}
	if !strings.Contains(text, "- mode: direct") {
		t.Error("mode not rendered")
	}
	if !strings.Contains(text, "- phases: planning, implementation") {
		t.Error("phases not rendered")
	}

	inv, err := p.Plan(context.Background(), Request{
		Task: "why is it slow", Project: "api", ProjectDir: "/repo/api",
		Skill: "investigation",
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !strings.Contains(inv.SpawnContext, "INVESTIGATION CONFIGURATION:") {
		t.Error("investigation skill context missing configuration block")
	}
	if !strings.Contains(inv.SpawnContext, ".orch/investigations/why-is-it-slow.md") {
		t.Errorf("investigation artifact path not resolved:\n%s", inv.SpawnContext)
	}
	// The resolved artifact path also rides on the plan so the launch can
	// record it on the agent.
	if inv.PrimaryArtifact != ".orch/investigations/why-is-it-slow.md" {
		t.Errorf("plan primary artifact = %q", inv.PrimaryArtifact)
	}
	if feature.PrimaryArtifact != "" {
		t.Errorf("feature plans carry no primary artifact, got %q", feature.PrimaryArtifact)
	}
}

func TestSpawnContextNoLegacyPhrases(t *testing.T) {
	p := newTestPlanner(t, newFakeGateway())
	plan, err := p.Plan(context.Background(), Request{
		Task: "anything", Project: "api", ProjectDir: "/repo/api", Skill: "feature-impl",
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	lower := strings.ToLower(plan.SpawnContext)
	for _, phrase := range []string{"populate workspace.md", "fill in workspace.md"} {
		if strings.Contains(lower, phrase) {
			t.Errorf("legacy phrase %q present in spawn context", phrase)
		}
	}
}

func TestCheckSpawnContextScoring(t *testing.T) {
	warnings := checkSpawnContext("TASK: x\nDELIVERABLES:\n", 0.8)
	if len(warnings) == 0 {
		t.Fatal("sparse context should warn")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w.Message, "below threshold") {
			found = true
		}
	}
	if !found {
		t.Error("expected a below-threshold summary warning")
	}

	legacy := checkSpawnContext("TASK: x\nplease populate WORKSPACE.md\n", 0.0)
	foundLegacy := false
	for _, w := range legacy {
		if w.Severity == SeverityCritical && strings.Contains(w.Message, "legacy instruction") {
			foundLegacy = true
		}
	}
	if !foundLegacy {
		t.Error("legacy phrase must raise a critical warning")
	}
}
