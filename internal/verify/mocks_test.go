package verify

import (
	"context"
	"fmt"
	"strings"

	"orch/internal/execx"
	"orch/internal/tracker"
	"orch/internal/types"
)

// fakeGateway serves a canned phase and reported artifact path per issue.
type fakeGateway struct {
	phases   map[string]string
	invPaths map[string]string
	errs     map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		phases:   map[string]string{},
		invPaths: map[string]string{},
		errs:     map[string]error{},
	}
}

func (f *fakeGateway) LatestPhase(ctx context.Context, id string, opts ...tracker.Option) (string, error) {
	if err, ok := f.errs[id]; ok {
		return "", err
	}
	return f.phases[id], nil
}

func (f *fakeGateway) HasPhaseComplete(ctx context.Context, id string, opts ...tracker.Option) (bool, error) {
	phase, err := f.LatestPhase(ctx, id, opts...)
	return types.PhaseIsComplete(phase), err
}

func (f *fakeGateway) Show(ctx context.Context, id string, opts ...tracker.Option) (*types.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeGateway) ListReady(ctx context.Context, label string, opts ...tracker.Option) ([]types.Issue, error) {
	return nil, nil
}

func (f *fakeGateway) UpdateStatus(ctx context.Context, id, status string, opts ...tracker.Option) error {
	return nil
}

func (f *fakeGateway) SetNotes(ctx context.Context, id, notes string, opts ...tracker.Option) error {
	return nil
}

func (f *fakeGateway) Comment(ctx context.Context, id, text string, opts ...tracker.Option) error {
	return nil
}

func (f *fakeGateway) Comments(ctx context.Context, id string, opts ...tracker.Option) ([]types.Comment, error) {
	return nil, nil
}

func (f *fakeGateway) Close(ctx context.Context, id, reason string, opts ...tracker.Option) error {
	return nil
}

func (f *fakeGateway) LatestInvestigationPath(ctx context.Context, id string, opts ...tracker.Option) (string, error) {
	return f.invPaths[id], nil
}

func (f *fakeGateway) LatestAgentMetadata(ctx context.Context, id string, opts ...tracker.Option) (map[string]any, error) {
	return nil, nil
}

var _ tracker.Gateway = (*fakeGateway)(nil)

// fakeGit scripts git command outcomes keyed by the joined argument list.
type fakeGit struct {
	responses map[string]fakeGitResponse
}

type fakeGitResponse struct {
	stdout string
	stderr string
	exit   int
}

func newFakeGit() *fakeGit {
	return &fakeGit{responses: map[string]fakeGitResponse{}}
}

func (f *fakeGit) on(args string, resp fakeGitResponse) { f.responses[args] = resp }

func (f *fakeGit) Run(ctx context.Context, req execx.Request) (execx.Result, error) {
	key := strings.Join(req.Args, " ")
	resp, ok := f.responses[key]
	if !ok {
		return execx.Result{}, fmt.Errorf("unscripted git call: %s", key)
	}
	res := execx.Result{Stdout: resp.stdout, Stderr: resp.stderr, ExitCode: resp.exit}
	if resp.exit != 0 {
		return res, &execx.ExitError{Req: req, Result: res}
	}
	return res, nil
}

func (f *fakeGit) LookPath(bin string) error { return nil }

var _ execx.Runner = (*fakeGit)(nil)
