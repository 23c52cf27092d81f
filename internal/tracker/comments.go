package tracker

import (
	"encoding/json"
	"regexp"
	"strings"

	"orch/internal/types"
)

// The wire-level comment protocol: workers express progress purely through
// comment lines beginning with a recognized prefix. Each recognized line
// parses into one Message variant; downstream logic switches on the type.

// Message is one parsed protocol line from a tracker comment.
type Message interface{ isMessage() }

// PhaseMsg reports worker progress ("Phase: Implementing").
type PhaseMsg struct{ Phase string }

// InvestigationPathMsg points at the worker's investigation artifact.
type InvestigationPathMsg struct{ Path string }

// AgentMetadataMsg carries a free-form JSON object from the worker.
type AgentMetadataMsg struct{ Fields map[string]any }

// UnknownMsg is any line that matches no recognized prefix.
type UnknownMsg struct{ Text string }

func (PhaseMsg) isMessage()             {}
func (InvestigationPathMsg) isMessage() {}
func (AgentMetadataMsg) isMessage()     {}
func (UnknownMsg) isMessage()           {}

var (
	phaseRe         = regexp.MustCompile(`(?i)^phase:\s*(\w+)`)
	investigationRe = regexp.MustCompile(`(?i)^investigation_path:\s*(.+)$`)
	metadataRe      = regexp.MustCompile(`(?i)^agent_metadata:\s*(\{.*\})\s*$`)
)

// ParseLine turns one comment line into its protocol message. Lines that
// match a recognized prefix but fail to parse (bad JSON) come back Unknown.
func ParseLine(line string) Message {
	trimmed := strings.TrimSpace(line)
	if m := phaseRe.FindStringSubmatch(trimmed); m != nil {
		return PhaseMsg{Phase: m[1]}
	}
	if m := investigationRe.FindStringSubmatch(trimmed); m != nil {
		return InvestigationPathMsg{Path: strings.TrimSpace(m[1])}
	}
	if m := metadataRe.FindStringSubmatch(trimmed); m != nil {
		var fields map[string]any
		if err := json.Unmarshal([]byte(m[1]), &fields); err == nil {
			return AgentMetadataMsg{Fields: fields}
		}
	}
	return UnknownMsg{Text: line}
}

// Messages parses every line of every comment in stream order. The
// tracker's comment ordering is preserved; no sorting happens here.
func Messages(comments []types.Comment) []Message {
	var out []Message
	for _, c := range comments {
		for _, line := range strings.Split(c.Text, "\n") {
			out = append(out, ParseLine(line))
		}
	}
	return out
}

// LatestPhase returns the chronologically last reported phase, or "".
func LatestPhase(comments []types.Comment) string {
	phase := ""
	for _, msg := range Messages(comments) {
		if p, ok := msg.(PhaseMsg); ok {
			phase = p.Phase
		}
	}
	return phase
}

// LatestInvestigationPath returns the last reported artifact path, or "".
func LatestInvestigationPath(comments []types.Comment) string {
	path := ""
	for _, msg := range Messages(comments) {
		if p, ok := msg.(InvestigationPathMsg); ok {
			path = p.Path
		}
	}
	return path
}

// LatestAgentMetadata returns the most recent successfully parsed metadata
// object, or nil.
func LatestAgentMetadata(comments []types.Comment) map[string]any {
	var fields map[string]any
	for _, msg := range Messages(comments) {
		if m, ok := msg.(AgentMetadataMsg); ok {
			fields = m.Fields
		}
	}
	return fields
}
