// Package focus ranks ready tracker issues for the daemon. Operators declare
// priorities in ~/.orch/focus.json; explicit spawns always outrank anything
// the daemon picks on its own.
package focus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"orch/internal/types"
)

// Focus is the operator's declared priorities. All fields are optional; an
// absent focus file ranks purely by tracker priority.
type Focus struct {
	PriorityProjects []string `json:"priority_projects,omitempty"`
	Labels           []string `json:"labels,omitempty"`
	IssueTypes       []string `json:"issue_types,omitempty"`
}

// Load reads a focus file. A missing file is an empty focus, not an error.
func Load(path string) (*Focus, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Focus{}, nil
	}
	if err != nil {
		return nil, err
	}
	f := &Focus{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Save writes the focus file. The daemon picks the change up through its
// file watcher; no restart needed.
func (f *Focus) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Candidate pairs an issue with the project it belongs to.
type Candidate struct {
	Project string
	Issue   types.Issue
}

// Rank orders candidates best-first: focus matches beat non-matches, then
// tracker priority (lower number is more urgent), then issue id for a stable
// order. The input slice is not modified.
func (f *Focus) Rank(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := f.score(out[i]), f.score(out[j])
		if si != sj {
			return si > sj
		}
		if out[i].Issue.Priority != out[j].Issue.Priority {
			return out[i].Issue.Priority < out[j].Issue.Priority
		}
		return out[i].Issue.ID < out[j].Issue.ID
	})
	return out
}

// score counts how many focus dimensions a candidate matches.
func (f *Focus) score(c Candidate) int {
	s := 0
	if containsFold(f.PriorityProjects, c.Project) {
		s++
	}
	for _, label := range c.Issue.Labels {
		if containsFold(f.Labels, label) {
			s++
			break
		}
	}
	if containsFold(f.IssueTypes, c.Issue.IssueType) {
		s++
	}
	return s
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
