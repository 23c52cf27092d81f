package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"orch/internal/daemon"
	"orch/internal/logging"
	"orch/internal/plan"
	"orch/internal/reconcile"
	"orch/internal/session"
	"orch/internal/skill"
)

var (
	daemonProjects  []string
	daemonSkill     string
	daemonLabel     string
	daemonMaxActive int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the autonomous spawn loop",
	Long: `Polls each project's tracker for ready issues, ranks them against
~/.orch/focus.json, and spawns workers up to the active-agent budget.
Each cycle starts with a reconcile pass so the budget reflects reality.

Projects are given as name=dir pairs:
  orch daemon --project api=~/code/api --project web=~/code/web`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringSliceVar(&daemonProjects, "project", nil, "project to watch, as name=dir (repeatable)")
	daemonCmd.Flags().StringVar(&daemonSkill, "skill", "", "skill applied to daemon-spawned workers")
	daemonCmd.Flags().StringVar(&daemonLabel, "label", "", "only consider ready issues carrying this label")
	daemonCmd.Flags().IntVar(&daemonMaxActive, "max-active", 0, "override the configured active-agent bound")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	projects, err := parseProjects(daemonProjects)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		return fmt.Errorf("no projects: pass at least one --project name=dir")
	}
	if daemonMaxActive > 0 {
		a.cfg.MaxActiveAgents = daemonMaxActive
	}

	skillDirs := []string{a.cfg.SkillsDir()}
	for _, p := range projects {
		skillDirs = append([]string{filepath.Join(p.Dir, ".orch", "skills")}, skillDirs...)
	}
	planner := plan.New(a.cfg, a.gateway, &skill.Loader{Dirs: skillDirs},
		logging.Component(logger, "plan"))
	supervisor := session.New(a.cfg, a.client, logging.Component(logger, "session"))
	reconciler := reconcile.New(a.cfg, a.client, a.registry,
		logging.Component(logger, "reconcile"))

	d := daemon.New(a.cfg, a.gateway, planner, supervisor, a.registry, reconciler,
		a.runner, projects, logging.Component(logger, "daemon"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = d.Run(ctx)
	if ctx.Err() != nil {
		fmt.Println(subtleStyle.Render("daemon stopped"))
		return nil
	}
	if err != nil {
		a.logFailure("daemon", "", "daemon", err, nil)
	}
	return err
}

func parseProjects(specs []string) ([]daemon.Project, error) {
	projects := make([]daemon.Project, 0, len(specs))
	for _, spec := range specs {
		name, dir, ok := strings.Cut(spec, "=")
		if !ok || name == "" || dir == "" {
			return nil, fmt.Errorf("bad --project %q: want name=dir", spec)
		}
		abs, err := filepath.Abs(expandHome(dir))
		if err != nil {
			return nil, err
		}
		projects = append(projects, daemon.Project{
			Name:  name,
			Dir:   abs,
			Skill: daemonSkill,
			Label: daemonLabel,
		})
	}
	return projects, nil
}

func expandHome(dir string) string {
	if !strings.HasPrefix(dir, "~") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~"))
}
