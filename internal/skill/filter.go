package skill

import (
	"regexp"
	"strings"
)

// Skill content may contain fenced sections:
//
//	SKILL-TEMPLATE: planning
//	...guidance...
//	/SKILL-TEMPLATE
//
// Filtering keeps the header (everything before the first marker), exactly
// the blocks whose phase is requested, and the footer (everything after the
// last marker close). Header and footer are emitted byte-for-byte.

// Implementation mode selects between the two implementation block variants.
const (
	ModeTDD    = "tdd"
	ModeDirect = "direct"
)

// Implementation phase tokens.
const (
	phaseImplementation = "implementation"
	phaseImplTDD        = "implementation-tdd"
	phaseImplDirect     = "implementation-direct"
)

var (
	openRe  = regexp.MustCompile(`^\s*(?:<!--\s*)?SKILL-TEMPLATE:\s*(\S+?)\s*(?:-->)?\s*$`)
	closeRe = regexp.MustCompile(`^\s*(?:<!--\s*)?/SKILL-TEMPLATE\s*(?:-->)?\s*$`)
)

type block struct {
	phase string
	body  string // lines between the markers, newline-joined
}

// FilterPhases returns the skill content narrowed to the given phase list.
// A nil or empty phase list keeps the content unchanged, markers included.
// Mode resolves the implementation variant; empty mode defaults to TDD.
func FilterPhases(content string, phases []string, mode string) string {
	if len(phases) == 0 {
		return content
	}
	header, blocks, footer, ok := split(content)
	if !ok {
		return content
	}

	want := make(map[string]bool, len(phases))
	for _, p := range phases {
		want[strings.ToLower(strings.TrimSpace(p))] = true
	}
	implVariant := phaseImplTDD
	if mode == ModeDirect {
		implVariant = phaseImplDirect
	}

	var out strings.Builder
	out.WriteString(header)
	for _, b := range blocks {
		phase := strings.ToLower(b.phase)
		keep := want[phase]
		// Implementation blocks come in tdd/direct variants; requesting
		// "implementation" selects the variant for the spawn's mode.
		if !keep && (phase == phaseImplTDD || phase == phaseImplDirect) && want[phaseImplementation] {
			keep = phase == implVariant
		}
		if keep {
			out.WriteString(b.body)
		}
	}
	out.WriteString(footer)
	return out.String()
}

// split separates content into header, marker blocks, and footer. ok is
// false when the content has no well-formed marker pair.
func split(content string) (header string, blocks []block, footer string, ok bool) {
	lines := strings.SplitAfter(content, "\n")

	var headerEnd = -1
	var cur *block
	var curBody strings.Builder
	var footerStart = -1

	for i, line := range lines {
		trimmed := strings.TrimSuffix(line, "\n")
		if m := openRe.FindStringSubmatch(trimmed); m != nil && cur == nil {
			if headerEnd < 0 {
				headerEnd = i
			}
			cur = &block{phase: m[1]}
			curBody.Reset()
			footerStart = -1
			continue
		}
		if closeRe.MatchString(trimmed) && cur != nil {
			cur.body = curBody.String()
			blocks = append(blocks, *cur)
			cur = nil
			footerStart = i + 1
			continue
		}
		if cur != nil {
			curBody.WriteString(line)
		}
	}

	if len(blocks) == 0 || cur != nil || headerEnd < 0 {
		return "", nil, "", false
	}
	header = strings.Join(lines[:headerEnd], "")
	if footerStart >= 0 && footerStart < len(lines) {
		footer = strings.Join(lines[footerStart:], "")
	}
	return header, blocks, footer, true
}
