package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past check runs and the audit trail",
	}

	cmd.AddCommand(newHistoryRunsCommand())
	cmd.AddCommand(newHistoryAuditCommand())

	return cmd
}

func newHistoryRunsCommand() *cobra.Command {
	var (
		limit int
		lines bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent check runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.ListCheckRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSOURCE\tDURATION\tSYNC\tTOGGLED\tEXPIRED\tDELETED\tFAILED\tUNREACHABLE\tERROR")
			for _, r := range runs {
				errText := ""
				if r.Error != nil {
					errText = *r.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					r.StartedAt.In(time.Local).Format("2006-01-02 15:04:05"), r.Source,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
					r.InSync, r.Toggled, r.Expired, r.Deleted, r.Failed, r.Unreachable, errText)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if lines {
				for _, r := range runs {
					fmt.Printf("\n== %s (%s)\n", r.ID, r.Source)
					for _, l := range r.Lines {
						fmt.Println(l)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	cmd.Flags().BoolVar(&lines, "lines", false, "print each run's report lines")

	return cmd
}

func newHistoryAuditCommand() *cobra.Command {
	var (
		limit  int
		action string
		target string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit entries, newest first",
		Example: `  pcesched history audit --action toggle
  pcesched history audit --target /orgs/1/sec_policy/active/rule_sets/5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			var actionFilter, targetFilter *string
			if action != "" {
				actionFilter = &action
			}
			if target != "" {
				targetFilter = &target
			}
			entries, err := a.store.ListAuditEntries(cmd.Context(), actionFilter, targetFilter, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tTARGET\tDETAILS")
			for _, e := range entries {
				tgt, details := "", ""
				if e.TargetID != nil {
					tgt = *e.TargetID
				}
				if e.Details != nil {
					details = *e.Details
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.In(time.Local).Format("2006-01-02 15:04:05"), e.Action, e.Actor, tgt, details)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")
	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().StringVar(&target, "target", "", "only entries for this href")

	return cmd
}
