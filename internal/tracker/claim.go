package tracker

import (
	"context"
	"fmt"

	"orch/internal/types"
)

// Claim moves every linked issue to in_progress ahead of a launch, primary
// first. Claiming happens before the window exists so a crash mid-spawn
// leaves an in_progress issue with no registry entry, which the reconciler
// surfaces as an orphan rather than silently losing the claim. Per-issue
// failures are returned as warnings; the launch proceeds regardless.
func Claim(ctx context.Context, g Gateway, ids []string, opts ...Option) []string {
	var warnings []string
	for _, id := range ids {
		if err := g.UpdateStatus(ctx, id, types.IssueInProgress, opts...); err != nil {
			warnings = append(warnings, fmt.Sprintf("claiming %s failed: %v", id, err))
		}
	}
	return warnings
}
