// Package skill loads skill documents: markdown guidance with a YAML
// front-matter block declaring deliverables, phases, and workspace policy.
// A skill selects what a worker must produce and which guidance sections it
// receives.
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"orch/internal/types"
)

// Kind distinguishes phase handling families.
const (
	KindFeature       = "feature"
	KindInvestigation = "investigation"
	KindGeneric       = "generic"
)

// Skill is one named policy document.
type Skill struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Ephemeral marks the workspace for deletion at reap time (typical for
	// investigations).
	Ephemeral bool `yaml:"ephemeral"`

	// Phases is the skill's full ordered phase list; spawns may narrow it.
	Phases []string `yaml:"phases"`

	Deliverables []types.Deliverable `yaml:"deliverables"`

	// DeclaresTests marks skills whose workspace carries a test results
	// block the verifier must check.
	DeclaresTests bool `yaml:"declares_tests"`

	// Content is the markdown body following the front matter.
	Content string `yaml:"-"`
}

// HasDeliverable reports whether the skill declares a deliverable of t.
func (s *Skill) HasDeliverable(t types.DeliverableType) bool {
	if s == nil {
		return false
	}
	for _, d := range s.Deliverables {
		if d.Type == t {
			return true
		}
	}
	return false
}

// Loader resolves skill names against an ordered list of search
// directories; first hit wins. Conventionally the project's .orch/skills
// precedes the global ~/.orch/skills.
type Loader struct {
	Dirs []string
}

// Load reads and parses <dir>/<name>.md for the first dir that has it.
func (l *Loader) Load(name string) (*Skill, error) {
	for _, dir := range l.Dirs {
		path := filepath.Join(dir, name+".md")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading skill %s: %w", name, err)
		}
		return Parse(name, data)
	}
	return nil, fmt.Errorf("skill %q not found", name)
}

// Parse splits front matter from body and fills defaults.
func Parse(name string, data []byte) (*Skill, error) {
	s := &Skill{Name: name, Kind: KindGeneric}
	body := string(data)

	if strings.HasPrefix(body, "---\n") {
		rest := body[len("---\n"):]
		if idx := strings.Index(rest, "\n---"); idx >= 0 {
			front := rest[:idx]
			if err := yaml.Unmarshal([]byte(front), s); err != nil {
				return nil, fmt.Errorf("parsing skill %s front matter: %w", name, err)
			}
			body = rest[idx+len("\n---"):]
			body = strings.TrimPrefix(body, "\n")
		}
	}
	s.Content = body
	if s.Name == "" {
		s.Name = name
	}
	applyDefaults(s)
	return s, nil
}

// applyDefaults fills the deliverable policy for skills that declare none.
func applyDefaults(s *Skill) {
	if s.Kind == "" {
		s.Kind = KindGeneric
	}
	if len(s.Deliverables) > 0 {
		return
	}
	switch s.Kind {
	case KindInvestigation:
		s.Ephemeral = true
		s.Deliverables = []types.Deliverable{
			{Type: types.DeliverableInvestigation,
				Path: ".orch/investigations/{slug}.md", Required: true},
		}
	case KindFeature:
		s.Deliverables = []types.Deliverable{
			{Type: types.DeliverableWorkspace,
				Path: ".orch/workspace/{name}/WORKSPACE.md", Required: true},
			{Type: types.DeliverableCommits, Required: true},
		}
	default:
		s.Deliverables = []types.Deliverable{
			{Type: types.DeliverableWorkspace,
				Path: ".orch/workspace/{name}/WORKSPACE.md", Required: true},
		}
	}
}
