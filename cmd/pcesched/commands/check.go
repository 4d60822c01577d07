package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcesched/pcesched/pkg/engine"
)

func newCheckCommand() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one reconciliation pass",
		Long: `Evaluate every stored schedule against the current time and the live
state on the PCE. Objects whose state differs are toggled and provisioned,
expired one-time schedules are disabled and removed, and schedules whose
object no longer exists are dropped.`,
		Example: `  # Run a pass and print the report
  pcesched check

  # Run a pass and print the report as JSON
  pcesched check --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.Check(cmd.Context(), engine.CheckOptions{
				Silent: quiet || jsonOutput,
				Source: "cli",
			})
			if jsonOutput && report != nil {
				if perr := printJSON(report); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !quiet && !jsonOutput {
				s := report.Summary
				fmt.Printf("\n%d in sync, %d toggled, %d expired, %d deleted, %d failed, %d unreachable (%s)\n",
					s.InSync, s.Toggled, s.Expired, s.Deleted, s.Failed, s.Unreachable,
					report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the report")

	return cmd
}
