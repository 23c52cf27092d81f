package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"orch/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "agent-registry.json"), nil)
}

func testAgent(id string) types.Agent {
	return types.Agent{
		ID:         id,
		Task:       "do the thing",
		Project:    "api",
		ProjectDir: "/repo/api",
		Workspace:  ".orch/workspace/" + id,
		Session:    "workers-api",
		Window:     id,
		WindowID:   "@" + id,
		BeadsID:    "bd-" + id,
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	in := testAgent("a1")
	if err := reg.Register(ctx, in); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Find(ctx, "a1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.Status != types.StatusActive {
		t.Errorf("status = %q", got.Status)
	}
	if got.SpawnedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}

	// Everything except registration stamps round-trips unchanged.
	in.Status = types.StatusActive
	in.SpawnedAt = got.SpawnedAt
	in.UpdatedAt = got.UpdatedAt
	if diff := cmp.Diff(in, *got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterDuplicateActive(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, testAgent("a1")); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(ctx, testAgent("a1"))
	if !errors.Is(err, types.ErrDuplicateAgent) {
		t.Fatalf("want duplicate error, got %v", err)
	}
	var conflict *types.RegistryConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("duplicate should surface as a registry conflict, got %T", err)
	}

	// A terminal record with the same id does not block re-registration.
	if err := reg.UpdateStatus(ctx, "a1", types.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, testAgent("a1")); err != nil {
		t.Errorf("re-register after completion failed: %v", err)
	}
}

func TestFindPrecedence(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	byIssue := testAgent("worker-one")
	byIssue.BeadsID = "bd-42"
	if err := reg.Register(ctx, byIssue); err != nil {
		t.Fatal(err)
	}
	// An agent whose id collides with another's issue id.
	collide := testAgent("bd-42")
	collide.BeadsID = "bd-99"
	if err := reg.Register(ctx, collide); err != nil {
		t.Fatal(err)
	}

	got, err := reg.Find(ctx, "bd-42")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "bd-42" {
		t.Errorf("exact id match must win over issue match, got %q", got.ID)
	}

	byIssueHit, err := reg.Find(ctx, "bd-99")
	if err != nil {
		t.Fatal(err)
	}
	if byIssueHit.ID != "bd-42" {
		t.Errorf("issue lookup returned %q", byIssueHit.ID)
	}

	if _, err := reg.Find(ctx, "nothing"); !errors.Is(err, types.ErrAgentNotFound) {
		t.Errorf("want ErrAgentNotFound, got %v", err)
	}
}

func TestListActiveFiltersTerminal(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := reg.Register(ctx, testAgent(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.UpdateStatus(ctx, "a2", types.StatusFailed); err != nil {
		t.Fatal(err)
	}

	active, err := reg.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].ID != "a1" || active[1].ID != "a3" {
		t.Errorf("active = %v", active)
	}

	all, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("terminal records must be kept, got %d", len(all))
	}
}

func TestUpdateStatusStampsTimestamps(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	if err := reg.Register(ctx, testAgent("a1")); err != nil {
		t.Fatal(err)
	}

	if err := reg.UpdateStatus(ctx, "a1", types.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.Find(ctx, "a1")
	if got.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
	if got.TerminatedAt != nil {
		t.Error("terminated_at must stay empty on completion")
	}

	if err := reg.Register(ctx, testAgent("a2")); err != nil {
		t.Fatal(err)
	}
	if err := reg.UpdateStatus(ctx, "a2", types.StatusAbandoned); err != nil {
		t.Fatal(err)
	}
	got, _ = reg.Find(ctx, "a2")
	if got.TerminatedAt == nil {
		t.Error("terminated_at not stamped on abandonment")
	}
}

func TestReRegisterKeepsTerminalHistory(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return clock })

	if err := reg.Register(ctx, testAgent("a1")); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Minute)
	if err := reg.UpdateStatus(ctx, "a1", types.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	// A second run of the same id must not erase the first run's record.
	clock = clock.Add(time.Hour)
	if err := reg.Register(ctx, testAgent("a1")); err != nil {
		t.Fatal(err)
	}

	all, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records for a re-registered id, want both runs", len(all))
	}
	if all[0].Status != types.StatusCompleted || all[0].CompletedAt == nil {
		t.Errorf("first run lost its terminal state: %+v", all[0])
	}
	if all[1].Status != types.StatusActive {
		t.Errorf("second run status = %q", all[1].Status)
	}

	// Lookups and mutations target the active run.
	got, err := reg.Find(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusActive {
		t.Errorf("Find returned the %q run, want active", got.Status)
	}
	clock = clock.Add(time.Minute)
	if err := reg.UpdateStatus(ctx, "a1", types.StatusFailed); err != nil {
		t.Fatal(err)
	}
	all, _ = reg.List(ctx)
	if all[0].Status != types.StatusCompleted {
		t.Error("update touched the historical record instead of the active run")
	}
	if all[1].Status != types.StatusFailed {
		t.Errorf("active run status = %q after update", all[1].Status)
	}
}

func TestMergePrefersNewerRecord(t *testing.T) {
	older := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	diskAgent := testAgent("a1")
	diskAgent.Status = types.StatusCompleted
	diskAgent.UpdatedAt = newer

	memAgent := testAgent("a1")
	memAgent.Status = types.StatusActive
	memAgent.UpdatedAt = older

	merged := merge([]types.Agent{diskAgent}, []types.Agent{memAgent})
	if len(merged) != 1 {
		t.Fatalf("merged %d records", len(merged))
	}
	if merged[0].Status != types.StatusCompleted {
		t.Error("stale in-memory record must not revert a newer disk transition")
	}

	// New in-memory agents append after disk order.
	fresh := testAgent("a2")
	fresh.UpdatedAt = newer
	merged = merge([]types.Agent{diskAgent}, []types.Agent{memAgent, fresh})
	if len(merged) != 2 || merged[1].ID != "a2" {
		t.Errorf("merged = %v", merged)
	}
}

func TestCorruptRegistryNeverTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-registry.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := New(path, nil)

	// Reads degrade to empty without rewriting the file.
	agents, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List on corrupt file: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("agents = %v", agents)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{corrupt" {
		t.Error("reading must never truncate or rewrite the registry")
	}
}

func TestConcurrentRegisterAndUpdate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	if err := reg.Register(ctx, testAgent("seed")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Register(ctx, testAgent(id)); err != nil {
				t.Errorf("Register %s: %v", id, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reg.UpdateStatus(ctx, "seed", types.StatusCompleted); err != nil {
			t.Errorf("UpdateStatus: %v", err)
		}
	}()
	wg.Wait()

	all, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(ids)+1 {
		t.Fatalf("lost records under concurrency: got %d, want %d", len(all), len(ids)+1)
	}
	seed, err := reg.Find(ctx, "seed")
	if err != nil {
		t.Fatal(err)
	}
	if seed.Status != types.StatusCompleted {
		t.Error("concurrent registrations reverted the status transition")
	}
}
