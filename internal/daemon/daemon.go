// Package daemon runs the autonomous loop: reconcile, poll the tracker for
// ready issues, rank them against the operator's focus, and spawn workers up
// to the active-agent budget. Explicit spawns from the CLI share the same
// registry and always outrank the daemon's own picks because the daemon only
// fills whatever budget is left.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"orch/internal/config"
	"orch/internal/execx"
	"orch/internal/focus"
	"orch/internal/gitops"
	"orch/internal/plan"
	"orch/internal/reconcile"
	"orch/internal/registry"
	"orch/internal/session"
	"orch/internal/tracker"
	"orch/internal/types"
)

// maxConcurrentSpawns bounds how many launches run at once within a cycle.
// Each launch types into a fresh window and polls for readiness, so two in
// flight is plenty; the rest of the budget queues behind the semaphore.
const maxConcurrentSpawns = 2

// Project is one directory the daemon watches for ready work.
type Project struct {
	Name  string
	Dir   string
	Skill string // skill applied to daemon-spawned workers
	Label string // optional tracker label filter
}

// Daemon is the polling supervisor loop.
type Daemon struct {
	cfg        *config.Config
	gateway    tracker.Gateway
	planner    *plan.Planner
	supervisor *session.Supervisor
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	runner     execx.Runner
	logger     *zap.Logger

	projects []Project
	fcs      *focus.Focus

	stop chan struct{}
	done chan struct{}
}

// New builds a daemon over the given projects. A nil runner uses the host for
// git preflight checks.
func New(cfg *config.Config, gateway tracker.Gateway, planner *plan.Planner,
	supervisor *session.Supervisor, reg *registry.Registry,
	reconciler *reconcile.Reconciler, runner execx.Runner,
	projects []Project, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = execx.OSRunner{}
	}
	return &Daemon{
		cfg:        cfg,
		gateway:    gateway,
		planner:    planner,
		supervisor: supervisor,
		registry:   reg,
		reconciler: reconciler,
		runner:     runner,
		logger:     logger,
		projects:   projects,
		fcs:        &focus.Focus{},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run polls until the context is cancelled or Stop is called. The focus file
// is reloaded on change so operators can re-prioritize a running daemon.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)

	d.reloadFocus()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("focus watcher unavailable, priorities load once", zap.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(d.cfg.FocusPath())); err != nil {
			d.logger.Warn("cannot watch orchestrator home", zap.Error(err))
		}
	}

	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	d.logger.Info("daemon started",
		zap.Int("projects", len(d.projects)),
		zap.Duration("poll_interval", d.cfg.PollInterval()),
		zap.Int("max_active", d.cfg.MaxActiveAgents))

	// One cycle immediately so a restart does not wait a full interval.
	d.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return nil
		case <-ticker.C:
			d.cycle(ctx)
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if filepath.Base(ev.Name) == filepath.Base(d.cfg.FocusPath()) &&
				ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				d.reloadFocus()
			}
		case err, ok := <-watcherErrors(watcher):
			if ok && err != nil {
				d.logger.Warn("focus watcher error", zap.Error(err))
			}
		}
	}
}

// Stop requests shutdown and waits for the loop to drain.
func (d *Daemon) Stop() {
	close(d.stop)
	<-d.done
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

func (d *Daemon) reloadFocus() {
	f, err := focus.Load(d.cfg.FocusPath())
	if err != nil {
		d.logger.Warn("focus file unreadable, keeping previous priorities", zap.Error(err))
		return
	}
	d.fcs = f
	d.logger.Debug("focus loaded",
		zap.Strings("priority_projects", f.PriorityProjects),
		zap.Strings("labels", f.Labels))
}

// cycle performs one reconcile-poll-spawn pass. Failures are logged and the
// next tick retries; the daemon never exits on a transient error.
func (d *Daemon) cycle(ctx context.Context) {
	if _, err := d.reconciler.Run(ctx); err != nil {
		d.logger.Warn("reconcile cycle failed, skipping spawn pass", zap.Error(err))
		return
	}

	active, err := d.registry.ListActive(ctx)
	if err != nil {
		d.logger.Warn("registry unreadable", zap.Error(err))
		return
	}
	budget := d.cfg.MaxActiveAgents - len(active)
	if budget <= 0 {
		d.logger.Debug("active-agent budget exhausted", zap.Int("active", len(active)))
		return
	}

	candidates := d.readyCandidates(ctx, active)
	if len(candidates) == 0 {
		return
	}
	ranked := d.fcs.Rank(candidates)
	if len(ranked) > budget {
		ranked = ranked[:budget]
	}

	sem := semaphore.NewWeighted(maxConcurrentSpawns)
	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range ranked {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		cand := cand
		g.Go(func() error {
			defer sem.Release(1)
			if err := d.spawn(gctx, cand); err != nil {
				d.logger.Warn("daemon spawn failed",
					zap.String("issue", cand.Issue.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// readyCandidates polls every project's tracker, dropping issues already
// claimed by an active agent.
func (d *Daemon) readyCandidates(ctx context.Context, active []types.Agent) []focus.Candidate {
	claimed := make(map[string]bool)
	for _, a := range active {
		for _, id := range a.LinkedIssues() {
			claimed[id] = true
		}
	}

	var out []focus.Candidate
	for _, proj := range d.projects {
		issues, err := d.gateway.ListReady(ctx, proj.Label,
			tracker.WithDB(filepath.Join(proj.Dir, ".beads", "beads.db")))
		if err != nil {
			d.logger.Warn("ready poll failed",
				zap.String("project", proj.Name), zap.Error(err))
			continue
		}
		for _, issue := range issues {
			if claimed[issue.ID] {
				continue
			}
			out = append(out, focus.Candidate{Project: proj.Name, Issue: issue})
		}
	}
	return out
}

// spawn plans and launches one worker for a ready issue. The issue is
// claimed before the launch so no other spawner picks it up mid-flight;
// registration happens only after a fully successful launch.
func (d *Daemon) spawn(ctx context.Context, cand focus.Candidate) error {
	proj, ok := d.project(cand.Project)
	if !ok {
		return fmt.Errorf("unknown project %q", cand.Project)
	}
	dbPath := filepath.Join(proj.Dir, ".beads", "beads.db")

	p, err := d.planner.Plan(ctx, plan.Request{
		Task:       cand.Issue.Title,
		Project:    proj.Name,
		ProjectDir: proj.Dir,
		Skill:      proj.Skill,
		Issues:     []string{cand.Issue.ID},
		DBPath:     dbPath,
	})
	if err != nil {
		return err
	}

	// Git preflight mirrors the explicit spawn path: sync, then refuse a
	// dirty tree. Non-repository directories pass through.
	git := gitops.New(proj.Dir, d.runner)
	if err := git.Pull(ctx); err != nil {
		d.logger.Warn("pull before spawn failed",
			zap.String("project", proj.Name), zap.Error(err))
	}
	if err := git.EnsureCleanTree(ctx, nil); err != nil {
		var rejected *types.PlanRejectedError
		if errors.As(err, &rejected) {
			return err
		}
		d.logger.Debug("clean-tree check unavailable", zap.Error(err))
	}

	for _, w := range tracker.Claim(ctx, d.gateway,
		p.Issues, tracker.WithDB(dbPath)) {
		d.logger.Warn("issue claim", zap.String("detail", w))
	}

	agent, err := d.supervisor.Launch(ctx, p)
	if err != nil {
		return err
	}
	if err := d.registry.Register(ctx, *agent); err != nil {
		return err
	}
	if err := d.gateway.SetNotes(ctx, cand.Issue.ID,
		"workspace: "+agent.Workspace, tracker.WithDB(dbPath)); err != nil {
		d.logger.Warn("workspace note failed",
			zap.String("issue", cand.Issue.ID), zap.Error(err))
	}

	d.logger.Info("daemon spawned worker",
		zap.String("agent", agent.ID),
		zap.String("issue", cand.Issue.ID),
		zap.String("project", proj.Name))
	return nil
}

func (d *Daemon) project(name string) (Project, bool) {
	for _, p := range d.projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}
