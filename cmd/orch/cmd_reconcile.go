package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"orch/internal/logging"
	"orch/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Align the registry with observed tmux reality",
	Long: `Enumerates windows across the orchestrator session and every
workers-* session, then marks registry agents whose windows are gone as
completed (or abandoned, when their artifact reports an unfinished
phase). Orphan windows are reported but never killed.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	rec := reconcile.New(a.cfg, a.client, a.registry, logging.Component(logger, "reconcile"))
	report, err := rec.Run(cmd.Context())
	if err != nil {
		a.logFailure("reconcile", "", "reconcile", err, nil)
		return err
	}

	if !report.Changed() && len(report.Orphans) == 0 {
		fmt.Println(subtleStyle.Render("registry matches observed windows"))
		return nil
	}
	for _, id := range report.Completed {
		fmt.Println(okStyle.Render("completed ") + idStyle.Render(id) + subtleStyle.Render(" (window gone)"))
	}
	for _, id := range report.Abandoned {
		fmt.Println(warnStyle.Render("abandoned ") + idStyle.Render(id) + subtleStyle.Render(" (window gone, artifact incomplete)"))
	}
	for _, w := range report.Orphans {
		fmt.Println(warnStyle.Render("orphan window ") + w + subtleStyle.Render(" (no registry entry; not killed)"))
	}
	return nil
}
