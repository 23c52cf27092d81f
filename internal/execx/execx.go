// Package execx runs external commands with bounded timeouts. Every external
// surface of the orchestrator (tmux, the tracker CLI, git, ps) goes through
// the Runner interface so tests can substitute fakes.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout applies when a request carries none.
const DefaultTimeout = 30 * time.Second

// Request describes one external command invocation.
type Request struct {
	Bin     string
	Args    []string
	Dir     string
	Env     []string // appended to the inherited environment
	Stdin   string
	Timeout time.Duration
}

// Result captures the outcome. Stdout and Stderr are captured separately so
// error text can be surfaced without polluting parsed output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes requests.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
	LookPath(bin string) error
}

// ExitError is returned when the command ran but exited non-zero. The Result
// is still populated.
type ExitError struct {
	Req    Request
	Result Result
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", e.Result.ExitCode)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Req.Bin, strings.Join(e.Req.Args, " "), msg)
}

// IsTimeout reports whether err stems from the per-request deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// OSRunner executes commands on the host.
type OSRunner struct{}

// Run executes the request, enforcing the timeout through the context.
func (OSRunner) Run(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, req.Bin, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), req.Env...)
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s timed out after %s: %w", req.Bin, timeout, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Req: req, Result: res}
	}
	if err != nil {
		return res, fmt.Errorf("running %s: %w", req.Bin, err)
	}
	return res, nil
}

// LookPath reports whether bin is resolvable on PATH.
func (OSRunner) LookPath(bin string) error {
	_, err := exec.LookPath(bin)
	return err
}
