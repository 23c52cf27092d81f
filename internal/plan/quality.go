package plan

import (
	"fmt"
	"strings"
)

// Severity grades a quality warning.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Warning is one advisory finding from the spawn context self-check. The
// check never blocks spawning.
type Warning struct {
	Severity Severity
	Message  string
}

// requiredSections is the fixed checklist every SpawnContext is scored
// against.
var requiredSections = []struct {
	header   string
	severity Severity
}{
	{"TASK:", SeverityCritical},
	{"PROJECT_DIR:", SeverityCritical},
	{"SESSION SCOPE:", SeverityWarning},
	{"SCOPE:", SeverityCritical},
	{"AUTHORITY:", SeverityWarning},
	{"DELIVERABLES:", SeverityCritical},
	{"VERIFICATION REQUIRED:", SeverityWarning},
	{"CONTEXT AVAILABLE:", SeverityInfo},
	{"SESSION COMPLETE PROTOCOL:", SeverityCritical},
}

// legacyPhrases must never appear; they belong to the retired
// workspace-population instructions.
var legacyPhrases = []string{
	"populate WORKSPACE.md",
	"fill in WORKSPACE.md",
}

// checkSpawnContext scores the composed text against the section checklist.
// A score below threshold surfaces an extra summary warning.
func checkSpawnContext(text string, threshold float64) []Warning {
	var warnings []Warning
	present := 0
	for _, section := range requiredSections {
		if strings.Contains(text, section.header) {
			present++
			continue
		}
		warnings = append(warnings, Warning{
			Severity: section.severity,
			Message:  fmt.Sprintf("missing %s section", strings.TrimSuffix(section.header, ":")),
		})
	}
	for _, phrase := range legacyPhrases {
		if strings.Contains(strings.ToLower(text), strings.ToLower(phrase)) {
			warnings = append(warnings, Warning{
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("legacy instruction present: %q", phrase),
			})
		}
	}
	score := float64(present) / float64(len(requiredSections))
	if score < threshold {
		warnings = append(warnings, Warning{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("spawn context score %.2f below threshold %.2f", score, threshold),
		})
	}
	return warnings
}
