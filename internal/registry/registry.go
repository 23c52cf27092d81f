// Package registry is the durable, lock-protected record of every agent the
// orchestrator has ever spawned. A single JSON document under ~/.orch is the
// system of record; every read-modify-write cycle holds an advisory file
// lock around load -> mutate -> merge-with-disk -> atomic write.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"orch/internal/types"
)

// document is the on-disk shape.
type document struct {
	Agents []types.Agent `json:"agents"`
}

// Registry stores agent records.
type Registry struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// New opens the registry at path. The file is created on first write.
func New(path string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{path: path, logger: logger, now: time.Now}
}

// SetClock overrides the registry clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// load reads the document. A missing file is a fresh start. A parse failure
// is retried briefly (another writer may be mid-rename) and then degrades to
// an empty list with a recoverable warning; the file is never truncated as a
// side effect of reading.
func (r *Registry) load(ctx context.Context) (document, error) {
	var doc document
	op := func() error {
		data, err := os.ReadFile(r.path)
		if os.IsNotExist(err) {
			doc = document{}
			return nil
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(data) == 0 {
			doc = document{}
			return nil
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err // transient: concurrent writer mid-rename
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(25*time.Millisecond), 4), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			r.logger.Warn("registry parse failed, treating as empty", zap.Error(err))
			return document{}, nil
		}
		return document{}, fmt.Errorf("loading registry: %w", err)
	}
	return doc, nil
}

// writeAtomic persists the document: sibling temp file, fsync, rename.
func (r *Registry) writeAtomic(doc document) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".agent-registry-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

// identity keys a record by id plus spawn time. Re-registering an id after
// an earlier run reached a terminal state yields a distinct key, so the old
// record's history survives alongside the new run.
func identity(a types.Agent) string {
	return a.ID + "|" + a.SpawnedAt.UTC().Format(time.RFC3339Nano)
}

// merge resolves a disk snapshot against the in-memory view. Per-record
// conflict resolution takes the record with the greater updated_at, so a
// reconciler's transition is never reverted by a stale concurrent writer.
// Disk insertion order is preserved; records new to the in-memory view append
// in their own order.
func merge(disk, mem []types.Agent) []types.Agent {
	byKey := make(map[string]types.Agent, len(mem))
	for _, a := range mem {
		byKey[identity(a)] = a
	}
	out := make([]types.Agent, 0, len(disk)+len(mem))
	seen := make(map[string]bool, len(disk))
	for _, d := range disk {
		key := identity(d)
		seen[key] = true
		if m, ok := byKey[key]; ok && !m.UpdatedAt.Before(d.UpdatedAt) {
			out = append(out, m)
		} else {
			out = append(out, d)
		}
	}
	for _, m := range mem {
		if !seen[identity(m)] {
			out = append(out, m)
		}
	}
	return out
}

// transact runs mutate under the advisory lock. The callback receives the
// current document and returns the in-memory view to merge back; returning
// an error aborts with no write.
func (r *Registry) transact(ctx context.Context, op string, mutate func(doc *document) error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	lock := flock.New(r.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = errors.New("lock acquisition timed out")
		}
		return &types.RegistryConflictError{Op: op, Cause: err}
	}
	defer lock.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return err
	}
	if err := mutate(&doc); err != nil {
		return err
	}

	// Reload inside the lock and merge, in case the snapshot raced an
	// earlier writer's rename.
	fresh, err := r.load(ctx)
	if err != nil {
		return err
	}
	doc.Agents = merge(fresh.Agents, doc.Agents)
	return r.writeAtomic(doc)
}

// Register appends a new agent in active state, stamping spawned_at and
// updated_at. Registering an id that is already active fails.
func (r *Registry) Register(ctx context.Context, agent types.Agent) error {
	return r.transact(ctx, "register", func(doc *document) error {
		for _, a := range doc.Agents {
			if a.ID == agent.ID && a.Status == types.StatusActive {
				return &types.RegistryConflictError{Op: "register", AgentID: agent.ID,
					Cause: types.ErrDuplicateAgent}
			}
		}
		now := r.now().UTC()
		agent.Status = types.StatusActive
		agent.SpawnedAt = now
		agent.UpdatedAt = now
		doc.Agents = append(doc.Agents, agent)
		return nil
	})
}

// Find returns the record whose id equals key, else the record whose primary
// linked issue equals key. Exact id matches always win. When an id has run
// more than once, the active record wins over terminal history, and the most
// recently appended record wins among terminal ones.
func (r *Registry) Find(ctx context.Context, key string) (*types.Agent, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if a := pick(doc.Agents, func(a types.Agent) bool { return a.ID == key }); a != nil {
		return a, nil
	}
	if a := pick(doc.Agents, func(a types.Agent) bool { return a.PrimaryIssue() == key }); a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrAgentNotFound, key)
}

// pick returns the active match when one exists, else the last match in
// insertion order.
func pick(agents []types.Agent, match func(types.Agent) bool) *types.Agent {
	var last *types.Agent
	for i := range agents {
		if !match(agents[i]) {
			continue
		}
		a := agents[i]
		if a.Status == types.StatusActive {
			return &a
		}
		last = &a
	}
	return last
}

// List returns every record in insertion order.
func (r *Registry) List(ctx context.Context) ([]types.Agent, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Agents, nil
}

// ListActive returns records with status=active in insertion order.
func (r *Registry) ListActive(ctx context.Context) ([]types.Agent, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	var active []types.Agent
	for _, a := range doc.Agents {
		if a.Status == types.StatusActive {
			active = append(active, a)
		}
	}
	return active, nil
}

// UpdateStatus transitions the agent, bumping updated_at and stamping
// completed_at or terminated_at as appropriate.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status types.AgentStatus) error {
	return r.Update(ctx, id, func(a *types.Agent) error {
		setStatus(a, status, r.now().UTC())
		return nil
	})
}

// Update applies mutate to one agent under the lock, bumping updated_at.
// With multiple records for the id, the active one is mutated; terminal
// history is only touched when no run is active, and then the latest record.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*types.Agent) error) error {
	return r.transact(ctx, "update", func(doc *document) error {
		idx := -1
		for i := range doc.Agents {
			if doc.Agents[i].ID != id {
				continue
			}
			idx = i
			if doc.Agents[i].Status == types.StatusActive {
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", types.ErrAgentNotFound, id)
		}
		if err := mutate(&doc.Agents[idx]); err != nil {
			return err
		}
		doc.Agents[idx].UpdatedAt = r.now().UTC()
		return nil
	})
}

func setStatus(a *types.Agent, status types.AgentStatus, now time.Time) {
	a.Status = status
	a.UpdatedAt = now
	switch status {
	case types.StatusCompleted:
		t := now
		a.CompletedAt = &t
	case types.StatusAbandoned, types.StatusFailed:
		t := now
		a.TerminatedAt = &t
	}
}

// Path returns the backing file path.
func (r *Registry) Path() string { return r.path }
