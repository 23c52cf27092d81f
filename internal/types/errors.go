package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors shared across components. Typed errors below wrap these so
// callers can branch with errors.Is without losing context.
var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrDuplicateAgent = errors.New("duplicate agent")
	ErrSpawnNotReady  = errors.New("agent window never became ready")
)

// Plan rejection reasons. Planner failures are always pre-launch: no side
// effects on the registry, tracker, or filesystem.
const (
	RejectClosedIssue   = "closed_issue"
	RejectIssueNotFound = "issue_not_found"
	RejectWorkerContext = "worker_context"
	RejectDirtyTree     = "dirty_tree"
)

// PlanRejectedError is a user-correctable failure raised before anything is
// launched.
type PlanRejectedError struct {
	Reason string
	Issue  string // offending issue id, when one exists
	Detail string
}

func (e *PlanRejectedError) Error() string {
	msg := "plan rejected: " + e.Reason
	if e.Issue != "" {
		msg += " (" + e.Issue + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// SpawnError is an infrastructure failure while launching a worker window.
// Stage names the step that failed so earlier side effects can be collected
// by the reconciler or manual cleanup.
type SpawnError struct {
	Stage   string // "session", "window", "context", "launch", "ready"
	Message string
	Cause   error
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("spawn failed at %s: %s", e.Stage, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// RegistryConflictError covers duplicate registration, lock timeouts, and
// merge contention beyond the retry budget.
type RegistryConflictError struct {
	Op      string
	AgentID string
	Cause   error
}

func (e *RegistryConflictError) Error() string {
	return fmt.Sprintf("registry %s conflict for %q: %v", e.Op, e.AgentID, e.Cause)
}

func (e *RegistryConflictError) Unwrap() error { return e.Cause }

// TrackerErrorKind classifies tracker gateway failures.
type TrackerErrorKind string

const (
	TrackerUnavailable TrackerErrorKind = "unavailable" // CLI missing from the environment
	TrackerNotFound    TrackerErrorKind = "not_found"   // no record for the lookup
	TrackerTransient   TrackerErrorKind = "transient"   // timeout, malformed JSON, flaky exit
)

// TrackerError is the gateway's single error type. Transient errors may be
// retried with bounded backoff; the others may not.
type TrackerError struct {
	Kind    TrackerErrorKind
	IssueID string
	Message string
	Cause   error
}

func (e *TrackerError) Error() string {
	msg := "tracker " + string(e.Kind)
	if e.IssueID != "" {
		msg += " (" + e.IssueID + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *TrackerError) Unwrap() error { return e.Cause }

// Retryable reports whether a bounded retry is sanctioned for this error.
func (e *TrackerError) Retryable() bool { return e.Kind == TrackerTransient }

// IsTrackerKind reports whether err is a TrackerError of the given kind.
func IsTrackerKind(err error, kind TrackerErrorKind) bool {
	var te *TrackerError
	return errors.As(err, &te) && te.Kind == kind
}

// Verification gate names, in evaluation order.
const (
	GatePhase          = "phase"
	GateWorkspace      = "workspace"
	GateInvestigation  = "investigation"
	GateDeliverable    = "deliverable"
	GatePendingActions = "pending_actions"
	GateTests          = "tests"
	GateCommits        = "commits"
)

// VerifyFailure is one actionable gate failure. The verifier never mutates
// state; it only reports.
type VerifyFailure struct {
	Gate   string
	Detail string
}

func (e *VerifyFailure) Error() string {
	return fmt.Sprintf("verification gate %s failed: %s", e.Gate, e.Detail)
}

// ReapStuckError means the shutdown cascade exhausted its steps with worker
// processes still alive. The caller chooses between accepting failed status
// and operator intervention.
type ReapStuckError struct {
	AgentID   string
	Remaining []int // PIDs still alive after every step
}

func (e *ReapStuckError) Error() string {
	pids := make([]string, len(e.Remaining))
	sort.Ints(e.Remaining)
	for i, p := range e.Remaining {
		pids[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("reap stuck for %s: processes still alive [%s]", e.AgentID, strings.Join(pids, " "))
}
