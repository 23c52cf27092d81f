// Package proc inspects process trees. The reaper walks descendants of a
// window's pane root PID to decide whether a worker still has live work.
package proc

import (
	"context"
	"strconv"
	"strings"

	"orch/internal/execx"
)

// Inspector walks process trees.
type Inspector interface {
	// Descendants returns every live descendant PID of root, depth-first.
	// The root itself is excluded.
	Descendants(ctx context.Context, root int) ([]int, error)
}

// PS shells out to ps(1).
type PS struct {
	runner execx.Runner
}

// NewPS returns an inspector backed by ps. A nil runner uses the host.
func NewPS(runner execx.Runner) *PS {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	return &PS{runner: runner}
}

// Descendants implements Inspector with one ps snapshot and a BFS walk.
func (p *PS) Descendants(ctx context.Context, root int) ([]int, error) {
	res, err := p.runner.Run(ctx, execx.Request{
		Bin:  "ps",
		Args: []string{"-eo", "pid=,ppid="},
	})
	if err != nil {
		return nil, err
	}

	children := make(map[int][]int)
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		children[ppid] = append(children[ppid], pid)
	}

	var out []int
	queue := []int{root}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range children[next] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}
