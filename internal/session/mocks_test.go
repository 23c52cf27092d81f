package session

import (
	"context"
	"fmt"

	"orch/internal/tmux"
)

// fakeClient records multiplexer calls in order and serves scripted pane
// captures.
type fakeClient struct {
	sessions      map[string]bool
	calls         []string
	captureOutput string
	captureErr    error
	newWindowErr  error
	sendKeysErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{sessions: map[string]bool{}, captureOutput: "> "}
}

func (f *fakeClient) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeClient) Available() error { return nil }

func (f *fakeClient) HasSession(ctx context.Context, name string) (bool, error) {
	return f.sessions[name], nil
}

func (f *fakeClient) NewSession(ctx context.Context, name, dir string) error {
	f.record("new-session %s", name)
	f.sessions[name] = true
	return nil
}

func (f *fakeClient) ListSessions(ctx context.Context) ([]string, error) {
	var out []string
	for name := range f.sessions {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeClient) ListWindows(ctx context.Context, session string) ([]tmux.Window, error) {
	return nil, nil
}

func (f *fakeClient) NewWindow(ctx context.Context, session, name, dir string) (tmux.Window, error) {
	f.record("new-window %s %s", session, name)
	if f.newWindowErr != nil {
		return tmux.Window{}, f.newWindowErr
	}
	return tmux.Window{ID: "@7", Name: name, PanePID: 4242}, nil
}

func (f *fakeClient) KillWindow(ctx context.Context, session, windowID string) error {
	f.record("kill-window %s %s", session, windowID)
	return nil
}

func (f *fakeClient) SendKeys(ctx context.Context, session, windowID, keys string, enter bool) error {
	f.record("send-keys %s %s %s", session, windowID, keys)
	return f.sendKeysErr
}

func (f *fakeClient) SendInterrupt(ctx context.Context, session, windowID string) error {
	f.record("interrupt %s %s", session, windowID)
	return nil
}

func (f *fakeClient) CapturePane(ctx context.Context, session, windowID string) (string, error) {
	f.record("capture-pane %s %s", session, windowID)
	return f.captureOutput, f.captureErr
}

func (f *fakeClient) SwitchClient(ctx context.Context, session, windowID string) error {
	f.record("switch-client %s %s", session, windowID)
	return nil
}

var _ tmux.Client = (*fakeClient)(nil)
