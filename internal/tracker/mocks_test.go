package tracker

import (
	"context"
	"fmt"
	"strings"

	"orch/internal/execx"
)

// fakeRunner scripts external command outcomes keyed by the joined argument
// list, and records every invocation.
type fakeRunner struct {
	lookPathErr error
	responses   map[string]fakeResponse
	calls       []execx.Request
}

type fakeResponse struct {
	stdout string
	stderr string
	exit   int
	err    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]fakeResponse{}}
}

func (f *fakeRunner) on(args string, resp fakeResponse) { f.responses[args] = resp }

func (f *fakeRunner) Run(ctx context.Context, req execx.Request) (execx.Result, error) {
	f.calls = append(f.calls, req)
	key := strings.Join(req.Args, " ")
	resp, ok := f.responses[key]
	if !ok {
		return execx.Result{}, fmt.Errorf("unscripted call: %s %s", req.Bin, key)
	}
	res := execx.Result{Stdout: resp.stdout, Stderr: resp.stderr, ExitCode: resp.exit}
	if resp.err != nil {
		return res, resp.err
	}
	if resp.exit != 0 {
		return res, &execx.ExitError{Req: req, Result: res}
	}
	return res, nil
}

func (f *fakeRunner) LookPath(bin string) error { return f.lookPathErr }

var _ execx.Runner = (*fakeRunner)(nil)
