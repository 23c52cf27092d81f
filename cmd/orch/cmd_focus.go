package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"orch/internal/focus"
)

var (
	focusProjects []string
	focusLabels   []string
	focusTypes    []string
	focusClear    bool
)

var focusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Show or set daemon ranking priorities",
	Long: `Without flags, prints the current priorities from ~/.orch/focus.json.
With flags, replaces them. A running daemon picks changes up immediately.

Examples:
  orch focus
  orch focus --project api --label urgent
  orch focus --clear`,
	Args: cobra.NoArgs,
	RunE: runFocus,
}

func init() {
	focusCmd.Flags().StringSliceVar(&focusProjects, "project", nil, "project to prioritize (repeatable)")
	focusCmd.Flags().StringSliceVar(&focusLabels, "label", nil, "issue label to prioritize (repeatable)")
	focusCmd.Flags().StringSliceVar(&focusTypes, "type", nil, "issue type to prioritize (repeatable)")
	focusCmd.Flags().BoolVar(&focusClear, "clear", false, "drop all priorities")
}

func runFocus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	path := a.cfg.FocusPath()

	if focusClear {
		if err := (&focus.Focus{}).Save(path); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("focus cleared"))
		return nil
	}

	if len(focusProjects)+len(focusLabels)+len(focusTypes) > 0 {
		f := &focus.Focus{
			PriorityProjects: focusProjects,
			Labels:           focusLabels,
			IssueTypes:       focusTypes,
		}
		if err := f.Save(path); err != nil {
			return err
		}
		printFocus(f)
		return nil
	}

	f, err := focus.Load(path)
	if err != nil {
		return err
	}
	printFocus(f)
	return nil
}

func printFocus(f *focus.Focus) {
	if len(f.PriorityProjects)+len(f.Labels)+len(f.IssueTypes) == 0 {
		fmt.Println(subtleStyle.Render("no focus set; the daemon ranks by tracker priority alone"))
		return
	}
	if len(f.PriorityProjects) > 0 {
		fmt.Println(renderKV("projects", strings.Join(f.PriorityProjects, ", ")))
	}
	if len(f.Labels) > 0 {
		fmt.Println(renderKV("labels", strings.Join(f.Labels, ", ")))
	}
	if len(f.IssueTypes) > 0 {
		fmt.Println(renderKV("types", strings.Join(f.IssueTypes, ", ")))
	}
}
