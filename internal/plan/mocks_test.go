package plan

import (
	"context"
	"fmt"

	"orch/internal/tracker"
	"orch/internal/types"
)

// fakeGateway serves canned issues and records nothing. Only the methods the
// planner exercises have behavior; the rest satisfy the interface.
type fakeGateway struct {
	issues map[string]types.Issue
	errs   map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{issues: map[string]types.Issue{}, errs: map[string]error{}}
}

func (f *fakeGateway) Show(ctx context.Context, id string, opts ...tracker.Option) (*types.Issue, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	issue, ok := f.issues[id]
	if !ok {
		return nil, &types.TrackerError{Kind: types.TrackerNotFound, IssueID: id}
	}
	return &issue, nil
}

func (f *fakeGateway) ListReady(ctx context.Context, label string, opts ...tracker.Option) ([]types.Issue, error) {
	return nil, fmt.Errorf("not implemented")
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

func (f *fakeGateway) LatestPhase(ctx context.Context, id string, opts ...tracker.Option) (string, error) {
	return "", nil
}

func (f *fakeGateway) HasPhaseComplete(ctx context.Context, id string, opts ...tracker.Option) (bool, error) {
	return false, nil
}

func (f *fakeGateway) LatestInvestigationPath(ctx context.Context, id string, opts ...tracker.Option) (string, error) {
	return "", nil
}

func (f *fakeGateway) LatestAgentMetadata(ctx context.Context, id string, opts ...tracker.Option) (map[string]any, error) {
	return nil, nil
}

var _ tracker.Gateway = (*fakeGateway)(nil)
