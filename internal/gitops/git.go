// Package gitops issues the version-control queries the orchestrator needs:
// branch, cleanliness, commit-message search, ahead-of-remote counts, and
// pulls. Local-only repositories (no remote) are tolerated by recognizing
// known benign error strings.
package gitops

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"orch/internal/execx"
	"orch/internal/types"
)

// DefaultExcludes are working-tree prefixes the cleanliness checks ignore.
// The tracker's database directory is synced out-of-band.
var DefaultExcludes = []string{".beads/"}

// Git runs against one repository directory.
type Git struct {
	runner execx.Runner
	dir    string
}

// New returns a Git bound to dir. A nil runner uses the host.
func New(dir string, runner execx.Runner) *Git {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	return &Git{runner: runner, dir: dir}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	res, err := g.runner.Run(ctx, execx.Request{Bin: "git", Args: args, Dir: g.dir})
	if err != nil {
		return res.Stderr, err
	}
	return res.Stdout, nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// StatusPorcelain returns the porcelain status lines, one per dirty path.
func (g *Git) StatusPorcelain(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// IsClean reports whether the working tree is clean, ignoring paths under
// any of the excluded prefixes (e.g. the tracker's own database directory,
// which is synced out-of-band).
func (g *Git) IsClean(ctx context.Context, exclude []string) (bool, []string, error) {
	lines, err := g.StatusPorcelain(ctx)
	if err != nil {
		return false, nil, err
	}
	var dirty []string
	for _, line := range lines {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if excluded(path, exclude) {
			continue
		}
		dirty = append(dirty, line)
	}
	return len(dirty) == 0, dirty, nil
}

func excluded(path string, exclude []string) bool {
	for _, prefix := range exclude {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// EnsureCleanTree rejects a spawn into a dirty working tree. Excluded
// prefixes default to DefaultExcludes. The rejection carries the dirty paths
// so the operator can commit or stash before retrying.
func (g *Git) EnsureCleanTree(ctx context.Context, exclude []string) error {
	if exclude == nil {
		exclude = DefaultExcludes
	}
	clean, dirty, err := g.IsClean(ctx, exclude)
	if err != nil {
		return err
	}
	if !clean {
		return &types.PlanRejectedError{Reason: types.RejectDirtyTree,
			Detail: strings.Join(dirty, "; ")}
	}
	return nil
}

// HasCommitMentioning reports whether any commit message references needle.
func (g *Git) HasCommitMentioning(ctx context.Context, needle string) (bool, error) {
	out, err := g.run(ctx, "log", "--oneline", "--grep", needle, "-n", "1")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// benign error substrings for repositories without a remote.
var noUpstreamMarkers = []string{
	"no upstream",
	"no tracking information",
	"does not point to a branch",
	"unknown revision",
	"no such branch",
}

// AheadCount returns the number of commits ahead of the tracked remote
// branch. A repository with no upstream counts as zero ahead.
func (g *Git) AheadCount(ctx context.Context) (int, error) {
	out, err := g.run(ctx, "rev-list", "--count", "@{upstream}..HEAD")
	if err != nil {
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) && benign(exitErr.Result.Stderr) {
			return 0, nil
		}
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, convErr
	}
	return n, nil
}

// Pull fast-forwards the current branch. Local-only repos are a no-op.
func (g *Git) Pull(ctx context.Context) error {
	_, err := g.run(ctx, "pull", "--ff-only")
	if err != nil {
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) && benign(exitErr.Result.Stderr) {
			return nil
		}
	}
	return err
}

func benign(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range noUpstreamMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
