// Package reconcile aligns the registry with observed multiplexer reality.
// A cycle enumerates windows across the orchestrator session and every
// workers-* session before deciding any agent is gone; a partial enumeration
// aborts the cycle.
package reconcile

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orch/internal/config"
	"orch/internal/registry"
	"orch/internal/session"
	"orch/internal/tmux"
)

// Reconciler runs reconciliation cycles.
type Reconciler struct {
	cfg      *config.Config
	client   tmux.Client
	registry *registry.Registry
	logger   *zap.Logger
}

// New builds a reconciler.
func New(cfg *config.Config, client tmux.Client, reg *registry.Registry, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, client: client, registry: reg, logger: logger}
}

// Run performs one cycle. It is idempotent and short; cancellation aborts
// with no partial writes.
func (r *Reconciler) Run(ctx context.Context) (*registry.ReconcileReport, error) {
	live, err := r.observeWindows(ctx)
	if err != nil {
		return nil, err
	}
	report, err := r.registry.Reconcile(ctx, live, ArtifactPhase)
	if err != nil {
		return nil, err
	}
	for _, id := range report.Completed {
		r.logger.Info("agent window gone, marked completed", zap.String("agent", id))
	}
	for _, id := range report.Abandoned {
		r.logger.Info("agent window gone with incomplete artifact, marked abandoned",
			zap.String("agent", id))
	}
	for _, w := range report.Orphans {
		r.logger.Warn("orphan window observed", zap.String("window_id", w))
	}
	return report, nil
}

// observeWindows collects the live window-id set across every session the
// orchestrator knows about. Any per-session failure aborts the whole
// observation: deciding from a partial enumeration would mark live workers
// completed.
func (r *Reconciler) observeWindows(ctx context.Context) (map[string]bool, error) {
	sessions, err := r.client.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	live := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range sessions {
		if name != r.cfg.OrchSession && !session.IsWorkersSession(name) {
			continue
		}
		name := name
		g.Go(func() error {
			windows, err := r.client.ListWindows(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, w := range windows {
				live[w.ID] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return live, nil
}

// ArtifactPhase reads the Phase field of a primary artifact: the last line
// of the file matching "Phase: <token>".
func ArtifactPhase(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	phase := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "Phase:"); ok {
			phase = strings.TrimSpace(rest)
		}
	}
	return phase, scanner.Err()
}
