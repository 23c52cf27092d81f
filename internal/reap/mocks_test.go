package reap

import (
	"context"
	"fmt"

	"orch/internal/tmux"
	"orch/internal/tracker"
	"orch/internal/types"
)

// fakeClient simulates a tmux session. Calls are recorded in order.
type fakeClient struct {
	windows map[string][]tmux.Window
	calls   []string

	killErr      error
	newWindowErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{windows: map[string][]tmux.Window{}}
}

func (f *fakeClient) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeClient) Available() error { return nil }

func (f *fakeClient) HasSession(ctx context.Context, name string) (bool, error) {
	_, ok := f.windows[name]
	return ok, nil
}

func (f *fakeClient) NewSession(ctx context.Context, name, dir string) error {
	f.windows[name] = nil
	return nil
}

func (f *fakeClient) ListSessions(ctx context.Context) ([]string, error) {
	var out []string
	for name := range f.windows {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeClient) ListWindows(ctx context.Context, session string) ([]tmux.Window, error) {
	return f.windows[session], nil
}

func (f *fakeClient) NewWindow(ctx context.Context, session, name, dir string) (tmux.Window, error) {
	f.record("new-window %s %s", session, name)
	if f.newWindowErr != nil {
		return tmux.Window{}, f.newWindowErr
	}
	w := tmux.Window{ID: "@" + name, Name: name}
	f.windows[session] = append(f.windows[session], w)
	return w, nil
}

func (f *fakeClient) KillWindow(ctx context.Context, session, windowID string) error {
	f.record("kill-window %s %s", session, windowID)
	if f.killErr != nil {
		return f.killErr
	}
	kept := f.windows[session][:0]
	for _, w := range f.windows[session] {
		if w.ID != windowID {
			kept = append(kept, w)
		}
	}
	f.windows[session] = kept
	return nil
}

func (f *fakeClient) SendKeys(ctx context.Context, session, windowID, keys string, enter bool) error {
	f.record("send-keys %s %s %s", session, windowID, keys)
	return nil
}

func (f *fakeClient) SendInterrupt(ctx context.Context, session, windowID string) error {
	f.record("interrupt %s %s", session, windowID)
	return nil
}

func (f *fakeClient) CapturePane(ctx context.Context, session, windowID string) (string, error) {
	return "", nil
}

func (f *fakeClient) SwitchClient(ctx context.Context, session, windowID string) error {
	return nil
}

var _ tmux.Client = (*fakeClient)(nil)

// fakeInspector serves successive descendant snapshots, repeating the last.
type fakeInspector struct {
	snapshots [][]int
	idx       int
}

func (f *fakeInspector) Descendants(ctx context.Context, root int) ([]int, error) {
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	snap := f.snapshots[f.idx]
	if f.idx < len(f.snapshots)-1 {
		f.idx++
	}
	return snap, nil
}

// fakeGateway records issue closures and can fail selectively.
type fakeGateway struct {
	closed   []string
	closeErr map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{closeErr: map[string]error{}}
}

func (f *fakeGateway) Close(ctx context.Context, id, reason string, opts ...tracker.Option) error {
	if err, ok := f.closeErr[id]; ok {
		return err
	}
	f.closed = append(f.closed, id)
	return nil
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
