// Package plan turns a spawn request into an immutable spawn plan: workspace
// identity, deliverables, filtered skill guidance, the SpawnContext brief,
// and tracker linkage. Planner failures are always pre-launch; nothing here
// touches the registry, the tracker, or the filesystem.
package plan

import (
	"context"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"orch/internal/config"
	"orch/internal/skill"
	"orch/internal/tracker"
	"orch/internal/types"
)

// Request is a unit of work to be planned.
type Request struct {
	Task       string
	Project    string // short name; used for session naming
	ProjectDir string // absolute
	Skill      string
	Issues     []string // primary first, command order
	DBPath     string   // optional cross-project tracker database

	// Feature-style knobs.
	Phases     []string
	Mode       string // tdd | direct (default tdd)
	Validation string

	Interactive bool
	AllowClosed bool // operator override for closed linked issues
}

// Plan is the planner's immutable output.
type Plan struct {
	Name         string // agent id / workspace name (slug, maybe date-prefixed)
	Slug         string // undated slug
	Task         string
	Project      string
	ProjectDir   string
	WorkspaceRel string // relative path under ProjectDir
	Skill        *skill.Skill
	SkillContent string // phase-filtered guidance
	Deliverables []types.Deliverable
	SpawnContext string
	PrimaryIssue string

	// PrimaryArtifact is the resolved investigation deliverable path,
	// relative to ProjectDir, or "" for skills without one.
	PrimaryArtifact string

	Issues      []string // primary first
	Resolved    []types.Issue
	DBPath      string
	Mode        string
	Validation  string
	Phases      []string
	Interactive bool
	Warnings    []Warning // quality self-check output, advisory only
}

// Planner resolves requests against the tracker and skill library.
type Planner struct {
	cfg     *config.Config
	gateway tracker.Gateway
	skills  *skill.Loader
	logger  *zap.Logger
	now     func() time.Time
	getenv  func(string) string
}

// New builds a planner.
func New(cfg *config.Config, gateway tracker.Gateway, skills *skill.Loader, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		cfg:     cfg,
		gateway: gateway,
		skills:  skills,
		logger:  logger,
		now:     time.Now,
		getenv:  os.Getenv,
	}
}

// SetClock overrides the planner clock. Test hook.
func (p *Planner) SetClock(now func() time.Time) { p.now = now }

// SetEnv overrides environment lookup. Test hook.
func (p *Planner) SetEnv(getenv func(string) string) { p.getenv = getenv }

// Plan resolves the request. All failures are PlanRejected or tracker
// errors; no side effects occur.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	// Workers must not spawn workers.
	if config.WorkerContext(p.getenv) {
		return nil, &types.PlanRejectedError{Reason: types.RejectWorkerContext,
			Detail: "refusing to spawn from inside a worker context"}
	}

	resolved, err := p.resolveIssues(ctx, req)
	if err != nil {
		return nil, err
	}

	name, slug := p.workspaceName(req, resolved)

	var sk *skill.Skill
	content := ""
	if req.Skill != "" {
		sk, err = p.skills.Load(req.Skill)
		if err != nil {
			return nil, &types.PlanRejectedError{Reason: "unknown_skill", Detail: err.Error()}
		}
		mode := req.Mode
		if mode == "" {
			mode = skill.ModeTDD
		}
		content = skill.FilterPhases(sk.Content, req.Phases, mode)
	}

	deliverables := defaultDeliverables(sk)

	plan := &Plan{
		Name:         name,
		Slug:         slug,
		Task:         req.Task,
		Project:      req.Project,
		ProjectDir:   req.ProjectDir,
		WorkspaceRel: path.Join(".orch", "workspace", name),
		Skill:        sk,
		SkillContent: content,
		Deliverables: deliverables,
		PrimaryIssue: primaryOf(req.Issues),
		Issues:       req.Issues,
		Resolved:     resolved,
		DBPath:       req.DBPath,
		Mode:         req.Mode,
		Validation:   req.Validation,
		Phases:       req.Phases,
		Interactive:  req.Interactive,
	}
	plan.PrimaryArtifact = investigationArtifact(plan)
	plan.SpawnContext = composeSpawnContext(plan, req.Task)
	plan.Warnings = checkSpawnContext(plan.SpawnContext, p.cfg.SpawnContextThreshold)
	for _, w := range plan.Warnings {
		p.logger.Debug("spawn context check",
			zap.String("severity", string(w.Severity)), zap.String("warning", w.Message))
	}
	return plan, nil
}

// resolveIssues queries every requested issue. A closed issue rejects the
// whole plan unless the override is set; a missing issue always rejects.
func (p *Planner) resolveIssues(ctx context.Context, req Request) ([]types.Issue, error) {
	if len(req.Issues) == 0 {
		return nil, nil
	}
	var opts []tracker.Option
	if req.DBPath != "" {
		opts = append(opts, tracker.WithDB(req.DBPath))
	}
	resolved := make([]types.Issue, 0, len(req.Issues))
	for _, id := range req.Issues {
		issue, err := p.gateway.Show(ctx, id, opts...)
		if err != nil {
			if types.IsTrackerKind(err, types.TrackerNotFound) {
				return nil, &types.PlanRejectedError{Reason: types.RejectIssueNotFound, Issue: id}
			}
			return nil, err
		}
		if issue.Status == types.IssueClosed && !req.AllowClosed {
			return nil, &types.PlanRejectedError{Reason: types.RejectClosedIssue, Issue: id}
		}
		resolved = append(resolved, *issue)
	}
	return resolved, nil
}

// workspaceName derives the agent id: a slug of the task (or the primary
// issue title), optionally date-prefixed, with a timestamp fallback when the
// text reduces to nothing.
func (p *Planner) workspaceName(req Request, resolved []types.Issue) (name, slug string) {
	source := req.Task
	if slug = Slugify(source); slug == "" && len(resolved) > 0 {
		slug = Slugify(resolved[0].Title)
	}
	now := p.now()
	if slug == "" {
		slug = FallbackSlug(now)
		return slug, slug
	}
	if p.cfg.DatePrefixWorkspaces {
		return now.Format("2006-01-02") + "-" + slug, slug
	}
	return slug, slug
}

func primaryOf(issues []string) string {
	if len(issues) == 0 {
		return ""
	}
	return issues[0]
}

// defaultDeliverables returns the deliverable set for the plan: the skill's
// declared set, or the bare workspace deliverable when no skill is given.
func defaultDeliverables(sk *skill.Skill) []types.Deliverable {
	if sk != nil {
		return sk.Deliverables
	}
	return []types.Deliverable{
		{Type: types.DeliverableWorkspace,
			Path: ".orch/workspace/{name}/WORKSPACE.md", Required: true},
	}
}
