package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"orch/internal/execx"
	"orch/internal/tmux"
	"orch/internal/tracker"
	"orch/internal/types"
)

// fakeClient is an in-memory multiplexer. Safe for concurrent launches.
type fakeClient struct {
	mu       sync.Mutex
	sessions map[string][]tmux.Window
	seq      int

	listSessionsErr error
	newWindowErr    error

	// windowDelay stretches each NewWindow call so tests can observe how
	// many launches overlap.
	windowDelay  time.Duration
	inFlight     int
	peakInFlight int
}

func newFakeClient() *fakeClient {
	return &fakeClient{sessions: map[string][]tmux.Window{}}
}

func (c *fakeClient) Available() error { return nil }

func (c *fakeClient) HasSession(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[name]
	return ok, nil
}

func (c *fakeClient) NewSession(ctx context.Context, name, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[name]; !ok {
		c.sessions[name] = nil
	}
	return nil
}

func (c *fakeClient) ListSessions(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listSessionsErr != nil {
		return nil, c.listSessionsErr
	}
	var names []string
	for name := range c.sessions {
		names = append(names, name)
	}
	return names, nil
}

func (c *fakeClient) ListWindows(ctx context.Context, session string) ([]tmux.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tmux.Window(nil), c.sessions[session]...), nil
}

func (c *fakeClient) NewWindow(ctx context.Context, session, name, dir string) (tmux.Window, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peakInFlight {
		c.peakInFlight = c.inFlight
	}
	if c.newWindowErr != nil {
		c.inFlight--
		err := c.newWindowErr
		c.mu.Unlock()
		return tmux.Window{}, err
	}
	c.seq++
	w := tmux.Window{ID: fmt.Sprintf("@%d", c.seq), Name: name, PanePID: 100 + c.seq}
	c.sessions[session] = append(c.sessions[session], w)
	delay := c.windowDelay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return w, nil
}

func (c *fakeClient) KillWindow(ctx context.Context, session, windowID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	windows := c.sessions[session]
	for i, w := range windows {
		if w.ID == windowID {
			c.sessions[session] = append(windows[:i], windows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no window %s", windowID)
}

func (c *fakeClient) SendKeys(ctx context.Context, session, windowID, keys string, enter bool) error {
	return nil
}

func (c *fakeClient) SendInterrupt(ctx context.Context, session, windowID string) error {
	return nil
}

func (c *fakeClient) CapturePane(ctx context.Context, session, windowID string) (string, error) {
	return "> ", nil
}

func (c *fakeClient) SwitchClient(ctx context.Context, session, windowID string) error {
	return nil
}

// fakeGateway serves ready issues keyed by label and records status updates.
type fakeGateway struct {
	mu             sync.Mutex
	ready          map[string][]types.Issue // label -> ready issues
	issues         map[string]*types.Issue
	listReadyCalls int
	statusUpdates  map[string]string
	notes          map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ready:         map[string][]types.Issue{},
		issues:        map[string]*types.Issue{},
		statusUpdates: map[string]string{},
		notes:         map[string]string{},
	}
}

func (g *fakeGateway) addReady(label string, issue types.Issue) {
	if issue.Status == "" {
		issue.Status = types.IssueOpen
	}
	g.ready[label] = append(g.ready[label], issue)
	g.issues[issue.ID] = &issue
}

func (g *fakeGateway) Show(ctx context.Context, id string, opts ...tracker.Option) (*types.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	issue, ok := g.issues[id]
	if !ok {
		return nil, &types.TrackerError{Kind: types.TrackerNotFound, IssueID: id}
	}
	copied := *issue
	return &copied, nil
}

func (g *fakeGateway) ListReady(ctx context.Context, label string, opts ...tracker.Option) ([]types.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listReadyCalls++
	return append([]types.Issue(nil), g.ready[label]...), nil
}

func (g *fakeGateway) UpdateStatus(ctx context.Context, id, status string, opts ...tracker.Option) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusUpdates[id] = status
	return nil
}

func (g *fakeGateway) SetNotes(ctx context.Context, id, notes string, opts ...tracker.Option) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes[id] = notes
	return nil
}

func (g *fakeGateway) Comment(ctx context.Context, id, text string, opts ...tracker.Option) error {
	return nil
}

func (g *fakeGateway) Comments(ctx context.Context, id string, opts ...tracker.Option) ([]types.Comment, error) {
	return nil, nil
}

func (g *fakeGateway) Close(ctx context.Context, id, reason string, opts ...tracker.Option) error {
	return nil
}

func (g *fakeGateway) LatestPhase(ctx context.Context, id string, opts ...tracker.Option) (string, error) {
	return "", nil
}

func (g *fakeGateway) HasPhaseComplete(ctx context.Context, id string, opts ...tracker.Option) (bool, error) {
	return false, nil
}

func (g *fakeGateway) LatestInvestigationPath(ctx context.Context, id string, opts ...tracker.Option) (string, error) {
	return "", nil
}

func (g *fakeGateway) LatestAgentMetadata(ctx context.Context, id string, opts ...tracker.Option) (map[string]any, error) {
	return nil, nil
}

// fakeRunner answers every external command with empty, successful output,
// which the git preflight reads as a clean, synced tree.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRunner) Run(ctx context.Context, req execx.Request) (execx.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req.Bin+" "+strings.Join(req.Args, " "))
	return execx.Result{}, nil
}

func (r *fakeRunner) LookPath(string) error { return nil }
