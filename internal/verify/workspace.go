package verify

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the parsed view of a worker's WORKSPACE.md: only the fields
// the verifier gates on. Anything else in the file is the worker's own
// business.
type Workspace struct {
	Phase          string
	PendingActions []string // unchecked Next Actions items
	TestsReported  bool
	TestsPassed    bool
	TestSummary    string
}

// ParseWorkspace reads a workspace file. The parse is line-oriented:
// a "Phase:" field, a "Next Actions" checklist, and a "Test Results" block.
func ParseWorkspace(path string) (*Workspace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ws := &Workspace{}
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "## "):
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))
		case strings.HasPrefix(line, "Phase:"):
			ws.Phase = strings.TrimSpace(strings.TrimPrefix(line, "Phase:"))
		case strings.HasPrefix(line, "- [ ]") && strings.Contains(section, "next actions"):
			ws.PendingActions = append(ws.PendingActions,
				strings.TrimSpace(strings.TrimPrefix(line, "- [ ]")))
		case strings.Contains(section, "test results") && line != "":
			ws.TestsReported = true
			lower := strings.ToLower(line)
			if strings.Contains(lower, "pass") && !strings.Contains(lower, "fail") {
				ws.TestsPassed = true
			}
			if ws.TestSummary == "" {
				ws.TestSummary = line
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ws, nil
}

// noSymlink rejects paths whose final component is a symlink. Workspace
// verification never crosses a symlink boundary.
func noSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return true // absence is handled by the existence gates
	}
	return info.Mode()&os.ModeSymlink == 0
}

// exists reports whether path names a real (non-symlink) file or directory.
func exists(path string) bool {
	if !noSymlink(path) {
		return false
	}
	_, err := os.Lstat(path)
	return err == nil
}

// existsUnder reports whether rel names a real file under base, walking every
// path component so a symlinked intermediate directory cannot smuggle an
// artifact in from outside the project tree. An absolute rel bypasses base
// and is checked as-is.
func existsUnder(base, rel string) bool {
	if filepath.IsAbs(rel) {
		return exists(rel)
	}
	current := base
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/") {
		if part == "" || part == "." {
			continue
		}
		current = filepath.Join(current, part)
		if !noSymlink(current) {
			return false
		}
	}
	_, err := os.Lstat(filepath.Join(base, rel))
	return err == nil
}

// resolveUnder joins a deliverable-relative path to the project directory
// unless it is already absolute.
func resolveUnder(projectDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectDir, p)
}
