package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"orch/internal/types"
)

// ArtifactPhaseFunc reads the Phase field of a primary artifact on disk.
// It is injected so the registry stays free of filesystem layout knowledge.
type ArtifactPhaseFunc func(path string) (string, error)

// ReconcileReport summarizes one reconciliation cycle.
type ReconcileReport struct {
	Completed []string // agents transitioned to completed
	Abandoned []string // agents transitioned to abandoned
	Orphans   []string // observed window ids claimed by no active agent
}

// Changed reports whether the cycle mutated any record.
func (r *ReconcileReport) Changed() bool {
	return len(r.Completed) > 0 || len(r.Abandoned) > 0
}

// Reconcile aligns active records against the set of currently live window
// ids observed across every known session. Window closure is the
// authoritative signal of worker exit: an active agent whose window id is
// absent transitions to completed, unless it carries a primary artifact
// whose Phase is not Complete, in which case it becomes abandoned. Observed
// windows claimed by no active agent are reported as orphans, untouched.
//
// The caller must pass a complete enumeration; a partial one must abort the
// cycle before calling here. Reconcile is idempotent.
func (r *Registry) Reconcile(ctx context.Context, liveWindowIDs map[string]bool, artifactPhase ArtifactPhaseFunc) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	err := r.transact(ctx, "reconcile", func(doc *document) error {
		claimed := make(map[string]bool)
		now := r.now().UTC()
		for i := range doc.Agents {
			a := &doc.Agents[i]
			if a.Status != types.StatusActive {
				continue
			}
			claimed[a.WindowID] = true
			if liveWindowIDs[a.WindowID] {
				continue
			}
			if a.PrimaryArtifact != "" && artifactPhase != nil {
				phase, err := artifactPhase(a.PrimaryArtifact)
				if err != nil || !types.PhaseIsComplete(phase) {
					if err != nil {
						r.logger.Warn("artifact unreadable during reconcile",
							zap.String("agent", a.ID), zap.Error(err))
					}
					setStatus(a, types.StatusAbandoned, now)
					report.Abandoned = append(report.Abandoned, a.ID)
					continue
				}
			}
			setStatus(a, types.StatusCompleted, now)
			report.Completed = append(report.Completed, a.ID)
		}
		for id := range liveWindowIDs {
			if !claimed[id] {
				report.Orphans = append(report.Orphans, id)
			}
		}
		if !report.Changed() {
			return errNoChanges
		}
		return nil
	})
	if errors.Is(err, errNoChanges) {
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// errNoChanges aborts the transaction write when reconciliation found
// nothing to mutate, keeping the cycle free of spurious rewrites.
var errNoChanges = errors.New("reconcile: no changes")
