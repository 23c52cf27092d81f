// Package tmux wraps the terminal multiplexer CLI behind a narrow client
// interface: named sessions, stable opaque window ids, keystroke injection,
// and pane capture. Window ids are treated as opaque tokens for a window's
// lifetime; the multiplexer owns their allocation.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orch/internal/execx"
)

// Window describes one live window.
type Window struct {
	ID      string // opaque, e.g. "@17"
	Name    string
	PanePID int // root PID of the active pane's process tree
}

// Client is the multiplexer surface the orchestrator depends on.
type Client interface {
	Available() error
	HasSession(ctx context.Context, name string) (bool, error)
	NewSession(ctx context.Context, name, dir string) error
	ListSessions(ctx context.Context) ([]string, error)
	ListWindows(ctx context.Context, session string) ([]Window, error)
	NewWindow(ctx context.Context, session, name, dir string) (Window, error)
	KillWindow(ctx context.Context, session, windowID string) error
	SendKeys(ctx context.Context, session, windowID, keys string, enter bool) error
	SendInterrupt(ctx context.Context, session, windowID string) error
	CapturePane(ctx context.Context, session, windowID string) (string, error)
	// SwitchClient retargets any client attached to the session; failures
	// are advisory.
	SwitchClient(ctx context.Context, session, windowID string) error
}

const commandTimeout = 10 * time.Second

// CLI drives the tmux binary.
type CLI struct {
	runner execx.Runner
}

// NewCLI returns a client backed by the tmux executable.
func NewCLI(runner execx.Runner) *CLI {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	return &CLI{runner: runner}
}

func (c *CLI) run(ctx context.Context, args ...string) (execx.Result, error) {
	return c.runner.Run(ctx, execx.Request{Bin: "tmux", Args: args, Timeout: commandTimeout})
}

func target(session, windowID string) string {
	return session + ":" + windowID
}

// Available reports whether tmux is on PATH.
func (c *CLI) Available() error {
	return c.runner.LookPath("tmux")
}

// HasSession checks for a session by exact name.
func (c *CLI) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	var exitErr *execx.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// NewSession creates a detached session rooted at dir.
func (c *CLI) NewSession(ctx context.Context, name, dir string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ListSessions returns the names of every extant session.
func (c *CLI) ListSessions(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions, not an error.
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) && strings.Contains(res.Stderr, "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return splitLines(res.Stdout), nil
}

// ListWindows enumerates windows of one session with their pane root PIDs.
func (c *CLI) ListWindows(ctx context.Context, session string) ([]Window, error) {
	res, err := c.run(ctx, "list-windows", "-t", "="+session,
		"-F", "#{window_id}\t#{window_name}\t#{pane_pid}")
	if err != nil {
		return nil, err
	}
	var windows []Window
	for _, line := range splitLines(res.Stdout) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		pid, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
		windows = append(windows, Window{ID: parts[0], Name: parts[1], PanePID: pid})
	}
	return windows, nil
}

// NewWindow creates a window and returns its multiplexer-assigned id.
func (c *CLI) NewWindow(ctx context.Context, session, name, dir string) (Window, error) {
	args := []string{"new-window", "-t", "=" + session, "-n", name, "-P", "-F", "#{window_id}\t#{pane_pid}"}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	res, err := c.run(ctx, args...)
	if err != nil {
		return Window{}, err
	}
	parts := strings.SplitN(strings.TrimSpace(res.Stdout), "\t", 2)
	if len(parts) == 0 || parts[0] == "" {
		return Window{}, fmt.Errorf("tmux new-window returned no window id")
	}
	w := Window{ID: parts[0], Name: name}
	if len(parts) == 2 {
		w.PanePID, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return w, nil
}

// KillWindow destroys a window by its stable id.
func (c *CLI) KillWindow(ctx context.Context, session, windowID string) error {
	_, err := c.run(ctx, "kill-window", "-t", target(session, windowID))
	return err
}

// SendKeys types keys into the window, optionally followed by Enter.
func (c *CLI) SendKeys(ctx context.Context, session, windowID, keys string, enter bool) error {
	args := []string{"send-keys", "-t", target(session, windowID), keys}
	if enter {
		args = append(args, "Enter")
	}
	_, err := c.run(ctx, args...)
	return err
}

// SendInterrupt delivers the interactive interrupt (Ctrl-C).
func (c *CLI) SendInterrupt(ctx context.Context, session, windowID string) error {
	_, err := c.run(ctx, "send-keys", "-t", target(session, windowID), "C-c")
	return err
}

// CapturePane returns the window's visible output.
func (c *CLI) CapturePane(ctx context.Context, session, windowID string) (string, error) {
	res, err := c.run(ctx, "capture-pane", "-p", "-t", target(session, windowID))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// SwitchClient points an attached client at the window. Best effort.
func (c *CLI) SwitchClient(ctx context.Context, session, windowID string) error {
	_, err := c.run(ctx, "switch-client", "-t", target(session, windowID))
	return err
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			out = append(out, line)
		}
	}
	return out
}

