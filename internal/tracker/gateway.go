// Package tracker adapts the external beads-style issue tracker CLI into a
// typed gateway. The tracker is authoritative for issue state and the sole
// audit log of worker phase progression; this package performs no caching
// between calls.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"orch/internal/execx"
	"orch/internal/types"
)

// Gateway is the typed tracker surface. Every call accepts options so the
// orchestrator can target an alternative database across project boundaries.
type Gateway interface {
	Show(ctx context.Context, id string, opts ...Option) (*types.Issue, error)
	ListReady(ctx context.Context, label string, opts ...Option) ([]types.Issue, error)
	UpdateStatus(ctx context.Context, id, status string, opts ...Option) error
	SetNotes(ctx context.Context, id, notes string, opts ...Option) error
	Comment(ctx context.Context, id, text string, opts ...Option) error
	Comments(ctx context.Context, id string, opts ...Option) ([]types.Comment, error)
	Close(ctx context.Context, id, reason string, opts ...Option) error

	// Derived comment queries; the only sanctioned way to extract
	// semantics from the comment stream.
	LatestPhase(ctx context.Context, id string, opts ...Option) (string, error)
	HasPhaseComplete(ctx context.Context, id string, opts ...Option) (bool, error)
	LatestInvestigationPath(ctx context.Context, id string, opts ...Option) (string, error)
	LatestAgentMetadata(ctx context.Context, id string, opts ...Option) (map[string]any, error)
}

type callOpts struct {
	dbPath string
}

// Option adjusts a single gateway call.
type Option func(*callOpts)

// WithDB targets an alternative tracker database.
func WithDB(path string) Option {
	return func(o *callOpts) { o.dbPath = path }
}

// CLI shells out to the tracker binary.
type CLI struct {
	bin     string
	timeout time.Duration
	runner  execx.Runner
	logger  *zap.Logger

	// retries bounds transient retry attempts per call.
	retries uint64
}

// NewCLI builds the gateway. A nil runner uses the host.
func NewCLI(bin string, timeout time.Duration, runner execx.Runner, logger *zap.Logger) *CLI {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLI{bin: bin, timeout: timeout, runner: runner, logger: logger, retries: 2}
}

// run invokes the tracker once, mapping failures onto the error taxonomy.
func (c *CLI) run(ctx context.Context, issueID string, opts []Option, args ...string) (string, error) {
	if err := c.runner.LookPath(c.bin); err != nil {
		return "", &types.TrackerError{Kind: types.TrackerUnavailable,
			Message: fmt.Sprintf("%s not found on PATH", c.bin), Cause: err}
	}

	var o callOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.dbPath != "" {
		args = append(args, "--db", o.dbPath)
	}

	res, err := c.runner.Run(ctx, execx.Request{Bin: c.bin, Args: args, Timeout: c.timeout})
	if err == nil {
		return res.Stdout, nil
	}
	if execx.IsTimeout(err) {
		return "", &types.TrackerError{Kind: types.TrackerTransient, IssueID: issueID,
			Message: "tracker call timed out", Cause: err}
	}
	var exitErr *execx.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.ToLower(exitErr.Result.Stderr)
		if issueID != "" && (strings.Contains(stderr, "not found") || strings.Contains(stderr, "no such issue")) {
			return "", &types.TrackerError{Kind: types.TrackerNotFound, IssueID: issueID,
				Message: strings.TrimSpace(exitErr.Result.Stderr)}
		}
		return "", &types.TrackerError{Kind: types.TrackerTransient, IssueID: issueID,
			Message: strings.TrimSpace(exitErr.Result.Stderr), Cause: err}
	}
	return "", &types.TrackerError{Kind: types.TrackerTransient, IssueID: issueID, Cause: err}
}

// runRetry wraps run with bounded backoff for transient failures only.
func (c *CLI) runRetry(ctx context.Context, issueID string, opts []Option, args ...string) (string, error) {
	var out string
	op := func() error {
		var err error
		out, err = c.run(ctx, issueID, opts, args...)
		if err == nil {
			return nil
		}
		var te *types.TrackerError
		if errors.As(err, &te) && te.Retryable() {
			c.logger.Debug("retrying tracker call",
				zap.Strings("args", args), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return out, nil
}

// issueRecord tolerates both snake_case and camelCase field spellings that
// different tracker versions emit.
type issueRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	Labels      []string `json:"labels"`
	IssueType   string   `json:"issue_type"`
	TypeAlt     string   `json:"issueType"`
	Notes       string   `json:"notes"`
}

func (r issueRecord) toIssue() types.Issue {
	issueType := r.IssueType
	if issueType == "" {
		issueType = r.TypeAlt
	}
	return types.Issue{
		ID:          strings.TrimSpace(r.ID),
		Title:       r.Title,
		Description: r.Description,
		Status:      strings.ToLower(strings.TrimSpace(r.Status)),
		Priority:    r.Priority,
		Labels:      r.Labels,
		IssueType:   issueType,
		Notes:       r.Notes,
	}
}

// decodeIssues accepts either a bare JSON array or an {"items": [...]}
// wrapper, matching the tracker's two observed output shapes.
func decodeIssues(data []byte) ([]issueRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var arr []issueRecord
	if err := dec.Decode(&arr); err == nil {
		return arr, nil
	}
	dec = json.NewDecoder(bytes.NewReader(data))
	var wrapper struct {
		Items []issueRecord `json:"items"`
	}
	if err := dec.Decode(&wrapper); err == nil {
		return wrapper.Items, nil
	}
	return nil, fmt.Errorf("unexpected tracker JSON output")
}

// Show fetches one issue by id.
func (c *CLI) Show(ctx context.Context, id string, opts ...Option) (*types.Issue, error) {
	out, err := c.runRetry(ctx, id, opts, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	records, err := decodeIssues([]byte(out))
	if err != nil {
		return nil, &types.TrackerError{Kind: types.TrackerTransient, IssueID: id,
			Message: "malformed show output", Cause: err}
	}
	for _, rec := range records {
		if rec.ID == id || strings.TrimSpace(rec.ID) == id {
			issue := rec.toIssue()
			return &issue, nil
		}
	}
	if len(records) == 1 {
		issue := records[0].toIssue()
		return &issue, nil
	}
	return nil, &types.TrackerError{Kind: types.TrackerNotFound, IssueID: id,
		Message: "no record in show output"}
}

// ListReady lists issues ready for work, optionally constrained to a label.
func (c *CLI) ListReady(ctx context.Context, label string, opts ...Option) ([]types.Issue, error) {
	args := []string{"ready", "--json"}
	if label != "" {
		args = append(args, "--label", label)
	}
	out, err := c.runRetry(ctx, "", opts, args...)
	if err != nil {
		return nil, err
	}
	records, err := decodeIssues([]byte(out))
	if err != nil {
		return nil, &types.TrackerError{Kind: types.TrackerTransient,
			Message: "malformed ready output", Cause: err}
	}
	issues := make([]types.Issue, 0, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			issues = append(issues, rec.toIssue())
		}
	}
	return issues, nil
}

// UpdateStatus moves an issue to the given status.
func (c *CLI) UpdateStatus(ctx context.Context, id, status string, opts ...Option) error {
	_, err := c.runRetry(ctx, id, opts, "update", id, "--status", status)
	return err
}

// SetNotes replaces the issue's notes field.
func (c *CLI) SetNotes(ctx context.Context, id, notes string, opts ...Option) error {
	_, err := c.runRetry(ctx, id, opts, "update", id, "--notes", notes)
	return err
}

// Comment appends a comment to the issue.
func (c *CLI) Comment(ctx context.Context, id, text string, opts ...Option) error {
	_, err := c.runRetry(ctx, id, opts, "comment", id, text)
	return err
}

type commentRecord struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
	Timestamp string `json:"timestamp"`
}

// Comments returns the issue's comments in tracker (chronological) order.
func (c *CLI) Comments(ctx context.Context, id string, opts ...Option) ([]types.Comment, error) {
	out, err := c.runRetry(ctx, id, opts, "comments", id, "--json")
	if err != nil {
		return nil, err
	}
	var records []commentRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		return nil, &types.TrackerError{Kind: types.TrackerTransient, IssueID: id,
			Message: "malformed comments output", Cause: err}
	}
	comments := make([]types.Comment, 0, len(records))
	for _, rec := range records {
		text := rec.Text
		if text == "" {
			text = rec.Comment
		}
		cm := types.Comment{Author: rec.Author, Text: text}
		for _, raw := range []string{rec.CreatedAt, rec.Timestamp} {
			if raw == "" {
				continue
			}
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				cm.CreatedAt = ts
				break
			}
		}
		comments = append(comments, cm)
	}
	return comments, nil
}

// Close closes the issue with a reason.
func (c *CLI) Close(ctx context.Context, id, reason string, opts ...Option) error {
	_, err := c.runRetry(ctx, id, opts, "close", id, "--reason", reason)
	return err
}

// LatestPhase scans the comment stream chronologically and returns the last
// reported phase token, or "" when none was ever reported.
func (c *CLI) LatestPhase(ctx context.Context, id string, opts ...Option) (string, error) {
	comments, err := c.Comments(ctx, id, opts...)
	if err != nil {
		return "", err
	}
	return LatestPhase(comments), nil
}

// HasPhaseComplete reports whether the latest phase equals Complete.
func (c *CLI) HasPhaseComplete(ctx context.Context, id string, opts ...Option) (bool, error) {
	phase, err := c.LatestPhase(ctx, id, opts...)
	if err != nil {
		return false, err
	}
	return types.PhaseIsComplete(phase), nil
}

// LatestInvestigationPath returns the most recently reported investigation
// artifact path, trimmed, or "".
func (c *CLI) LatestInvestigationPath(ctx context.Context, id string, opts ...Option) (string, error) {
	comments, err := c.Comments(ctx, id, opts...)
	if err != nil {
		return "", err
	}
	return LatestInvestigationPath(comments), nil
}

// LatestAgentMetadata returns the most recent successfully parsed
// agent_metadata object, or nil.
func (c *CLI) LatestAgentMetadata(ctx context.Context, id string, opts ...Option) (map[string]any, error) {
	comments, err := c.Comments(ctx, id, opts...)
	if err != nil {
		return nil, err
	}
	return LatestAgentMetadata(comments), nil
}
