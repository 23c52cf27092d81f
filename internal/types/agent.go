// Package types holds the shared records passed between the orchestrator's
// components: agents, issues, deliverables, and the error taxonomy. It has no
// dependencies on other internal packages so every component can import it.
package types

import (
	"path/filepath"
	"strings"
	"time"
)

// AgentStatus is the lifecycle state of a supervised agent. Transitions are
// monotonic: active -> completed | abandoned | failed. There is no
// resurrection path.
type AgentStatus string

const (
	StatusActive    AgentStatus = "active"
	StatusCompleted AgentStatus = "completed"
	StatusAbandoned AgentStatus = "abandoned"
	StatusFailed    AgentStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s AgentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusFailed
}

// Completion is the structured record the reaper populates when an agent is
// disposed of.
type Completion struct {
	WorkspaceCleaned bool     `json:"workspace_cleaned,omitempty"`
	Notes            string   `json:"notes,omitempty"`
	IssuesClosed     []string `json:"issues_closed,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Agent is the unit of supervision: one worker process living in one
// multiplexer window, tracked in the registry for the lifetime of the
// registry file. Completed and failed agents are filtered by queries, never
// deleted.
type Agent struct {
	ID         string `json:"id"`
	Task       string `json:"task"`
	Project    string `json:"project"`
	ProjectDir string `json:"project_dir"`

	// Workspace is always relative to ProjectDir and is never followed
	// across a symlink boundary during verification.
	Workspace string `json:"workspace"`

	// Slug is the undated workspace slug. Deliverable path templates resolve
	// {name} to ID and {slug} to this, exactly as the planner resolved them
	// in the worker's brief.
	Slug string `json:"slug,omitempty"`

	Skill string `json:"skill,omitempty"`

	// PrimaryArtifact is the absolute path of the investigation artifact the
	// worker was asked to produce, when the skill declares one. The
	// reconciler and verifier read its Phase field.
	PrimaryArtifact string `json:"primary_artifact,omitempty"`

	// Window handle. The (Session, WindowID) pair may go stale but is never
	// reused for a different agent.
	Session  string `json:"session"`
	Window   string `json:"window"`
	WindowID string `json:"window_id"`

	Status AgentStatus `json:"status"`

	SpawnedAt    time.Time  `json:"spawned_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`

	// Tracker linkage. BeadsID is the primary issue; BeadsIDs holds any
	// additional linked issues in declaration order.
	BeadsID     string   `json:"beads_id,omitempty"`
	BeadsIDs    []string `json:"beads_ids,omitempty"`
	BeadsDBPath string   `json:"beads_db_path,omitempty"`

	Completion *Completion `json:"completion,omitempty"`
}

// LinkedIssues returns every tracker issue linked to the agent, primary
// first. Only the primary's phase is consulted for completion gating.
func (a *Agent) LinkedIssues() []string {
	if a.BeadsID == "" {
		return nil
	}
	out := []string{a.BeadsID}
	for _, id := range a.BeadsIDs {
		if id != a.BeadsID {
			out = append(out, id)
		}
	}
	return out
}

// PrimaryIssue returns the primary linked issue id, or "" when the agent has
// no tracker linkage.
func (a *Agent) PrimaryIssue() string { return a.BeadsID }

// WorkspaceDir resolves the absolute workspace directory.
func (a *Agent) WorkspaceDir() string {
	return filepath.Join(a.ProjectDir, a.Workspace)
}

// Phase tokens reported by workers through tracker comments. The family is
// open-ended; only Complete is semantically privileged.
const (
	PhasePlanning     = "Planning"
	PhaseImplementing = "Implementing"
	PhaseValidating   = "Validating"
	PhaseComplete     = "Complete"
)

// PhaseIsComplete reports whether a worker-reported phase token means the
// worker considers itself done. Matching is case-insensitive.
func PhaseIsComplete(phase string) bool {
	return strings.EqualFold(strings.TrimSpace(phase), PhaseComplete)
}

// Issue is the orchestrator's mirror of a tracker record. The tracker is
// authoritative; this caches only what a single operation needs.
type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	IssueType   string   `json:"issue_type,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Issue status values the core distinguishes. Anything else is passed
// through untouched.
const (
	IssueOpen       = "open"
	IssueInProgress = "in_progress"
	IssueClosed     = "closed"
)

// Comment is a single tracker comment. Ordering is defined by the tracker;
// the slice returned by the gateway is chronological.
type Comment struct {
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DeliverableType classifies what a worker must produce.
type DeliverableType string

const (
	DeliverableWorkspace     DeliverableType = "workspace"
	DeliverableInvestigation DeliverableType = "investigation"
	DeliverableDecision      DeliverableType = "decision"
	DeliverableKnowledge     DeliverableType = "knowledge"
	DeliverableCommits       DeliverableType = "commits"
)

// Deliverable attaches a required artifact to a skill. Path is a template
// relative to the project directory; {name} expands to the agent id and
// {slug} to the workspace slug.
type Deliverable struct {
	Type     DeliverableType `yaml:"type" json:"type"`
	Path     string          `yaml:"path" json:"path"`
	Required bool            `yaml:"required" json:"required"`
}

// ResolvePath expands the {name} and {slug} template variables.
func (d Deliverable) ResolvePath(name, slug string) string {
	p := strings.ReplaceAll(d.Path, "{name}", name)
	return strings.ReplaceAll(p, "{slug}", slug)
}
