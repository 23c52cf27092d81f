// Command orch supervises AI coding agents: it spawns them into multiplexer
// windows, tracks them in a shared registry, verifies their deliverables
// against the issue tracker, and reaps them when done.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orch/internal/config"
	"orch/internal/errlog"
	"orch/internal/execx"
	"orch/internal/logging"
	"orch/internal/registry"
	"orch/internal/tmux"
	"orch/internal/tracker"
)

var (
	// Global flags.
	verbose bool
	homeDir string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orch",
	Short: "orch - local multi-agent orchestrator",
	Long: `orch spawns AI coding agents into tmux windows, one worker per window,
and coordinates them against a beads issue tracker.

Agent identity lives in ~/.orch/agent-registry.json; issue state and the
phase audit trail live in the tracker. Workers report progress through
tracker comments and orch decides when they are verifiably done.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if homeDir != "" {
			os.Setenv(config.EnvHome, homeDir)
		}
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// app bundles the wired components every command needs. Construction is
// cheap; nothing talks to the outside world until a method is called.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	client   tmux.Client
	gateway  tracker.Gateway
	errors   *errlog.Log
	runner   execx.Runner
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	runner := execx.OSRunner{}
	return &app{
		cfg:      cfg,
		registry: registry.New(cfg.RegistryPath(), logging.Component(logger, "registry")),
		client:   tmux.NewCLI(runner),
		gateway: tracker.NewCLI(cfg.TrackerBin, cfg.TrackerTimeout(), runner,
			logging.Component(logger, "tracker")),
		errors: errlog.New(cfg.ErrorLogPath()),
		runner: runner,
	}, nil
}

// logFailure records an infrastructure failure in the rolling error log.
// Planning rejections are user-correctable and stay out of the log.
func (a *app) logFailure(command, subcommand, kind string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	if appendErr := a.errors.Append(errlog.Entry{
		Command:    command,
		Subcommand: subcommand,
		Kind:       kind,
		Message:    err.Error(),
		Context:    ctx,
	}); appendErr != nil {
		logger.Warn("error log append failed", zap.Error(appendErr))
	}
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "orchestrator home directory (default ~/.orch)")

	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(reapCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(focusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}
