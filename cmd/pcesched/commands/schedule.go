package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/pcesched/pcesched/pkg/manager"
	"github.com/pcesched/pcesched/pkg/schedule"
)

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules", "s"},
		Short:   "Manage schedules",
	}

	cmd.AddCommand(newScheduleAddCommand())
	cmd.AddCommand(newScheduleListCommand())
	cmd.AddCommand(newScheduleDeleteCommand())
	cmd.AddCommand(newScheduleImportCommand())
	cmd.AddCommand(newScheduleExportCommand())

	return cmd
}

func newScheduleAddCommand() *cobra.Command {
	var (
		name    string
		action  string
		days    []string
		start   string
		end     string
		expire  string
		ruleSet bool
	)

	cmd := &cobra.Command{
		Use:   "add <href>",
		Short: "Create or replace the schedule of a rule or rule set",
		Long: `Attach a schedule to a provisioned rule or rule set.

A recurring schedule is given with --start and --end (HH:MM, 24h) and
optionally --days and --action. With --action allow (the default) the
object is enabled inside the window; with --action block it is disabled
inside the window. A window whose end is before its start wraps past
midnight.

A one-time schedule is given with --expire. The object stays enabled until
then, after which it is disabled and the schedule removed.

The object's description is tagged with a summary of the schedule.`,
		Example: `  # Enable a rule during office hours on weekdays
  pcesched schedule add /orgs/1/sec_policy/active/rule_sets/5/sec_rules/12 \
    --days mon,tue,wed,thu,fri --start 08:00 --end 18:00

  # Block a whole rule set overnight
  pcesched schedule add /orgs/1/sec_policy/active/rule_sets/5 \
    --action block --start 22:00 --end 06:00

  # Disable a rule at the end of the year
  pcesched schedule add /orgs/1/sec_policy/active/rule_sets/5/sec_rules/12 \
    --expire 2025-12-31T23:59`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			href := strings.TrimSpace(args[0])

			oneTime := expire != ""
			if oneTime && (start != "" || end != "") {
				return fmt.Errorf("--expire cannot be combined with --start/--end")
			}
			if !oneTime && (start == "" || end == "") {
				return fmt.Errorf("either --start and --end or --expire is required")
			}

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			detail, isRS, err := a.manager.DescribeTarget(ctx, href)
			if err != nil {
				a.log.WithHref(href).WithError(err).Debug("Could not describe target")
				isRS = ruleSet
			}
			if name == "" {
				name = detail.Name
			}

			var rec *schedule.Record
			if oneTime {
				rec, err = schedule.NewOneTime(name, isRS, expire)
			} else {
				rec, err = schedule.NewRecurring(name, isRS, action, days, start, end)
			}
			if err != nil {
				return err
			}
			detail.Name = name
			rec.Detail = detail

			var res *manager.AddResult
			err = a.instrument(ctx, "schedule.add", func(ctx context.Context) error {
				var err error
				res, err = a.manager.Add(ctx, manager.AddRequest{Href: href, Record: rec, Actor: "cli"})
				return err
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}

			verb := "created"
			if res.Overwritten {
				verb = "updated"
			}
			fmt.Printf("Schedule %s for %s\n", verb, href)
			if res.Policy != nil {
				for _, w := range res.Policy.Warnings() {
					fmt.Printf("  warning (%s): %s\n", w.Policy, w.Message)
				}
			}
			if res.NoteError != nil {
				fmt.Printf("  note not updated: %v\n", res.NoteError)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to the rule description or rule set name)")
	cmd.Flags().StringVarP(&action, "action", "a", "allow", "allow or block inside the window")
	cmd.Flags().StringSliceVarP(&days, "days", "d", nil, "weekdays, e.g. mon,tue (default every day)")
	cmd.Flags().StringVar(&start, "start", "", "window start (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "window end (HH:MM)")
	cmd.Flags().StringVar(&expire, "expire", "", "one-time expiration (YYYY-MM-DDTHH:MM)")
	cmd.Flags().BoolVar(&ruleSet, "ruleset", false, "target is a rule set (only used when the PCE cannot be queried for it)")

	return cmd
}

func newScheduleListCommand() *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List schedules grouped by rule set",
		Example: `  # List stored schedules
  pcesched schedule list

  # Include the objects' current state on the PCE
  pcesched schedule list --live`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), live)
			if err != nil {
				return err
			}
			defer a.Close()

			groups, err := a.manager.List(cmd.Context(), live)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(groups)
			}
			if len(groups) == 0 {
				fmt.Println("No schedules.")
				return nil
			}

			for _, g := range groups {
				fmt.Println(g.RuleSet)
				if g.Self != nil {
					printEntry("  ", g.Self)
				}
				for i := range g.Rules {
					printEntry("    ", &g.Rules[i])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "query the PCE for each object's current state")

	return cmd
}

func printEntry(indent string, e *manager.Entry) {
	kind := "rule"
	if e.IsRuleSet {
		kind = "ruleset"
	}
	line := fmt.Sprintf("%s[%s] %-7s %s  %s  %s", indent, e.ID, kind, e.Name, e.Mode, e.Timing)
	if e.Live != nil {
		switch e.Live.Status {
		case manager.LiveOK:
			state := "disabled"
			if e.Live.Enabled {
				state = "enabled"
			}
			line += "  (" + state + ")"
		case manager.LiveDeleted:
			line += "  (deleted on PCE)"
		default:
			line += "  (unreachable)"
		}
	}
	fmt.Println(line)
}

func newScheduleDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <href|id>...",
		Aliases: []string{"rm"},
		Short:   "Delete schedules",
		Long: `Delete schedules by href or by the trailing ID of their href. The schedule
tag is removed from each object's description; a failure to do so is
reported but does not prevent the deletion.`,
		Example: `  pcesched schedule delete 12
  pcesched schedule delete /orgs/1/sec_policy/active/rule_sets/5 --yes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !yes && !jsonOutput {
				ok := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Delete %d schedule(s)?", len(args)),
					Default: false,
				}
				if err := survey.AskOne(prompt, &ok); err != nil {
					return fmt.Errorf("confirmation failed: %w", err)
				}
				if !ok {
					return fmt.Errorf("operation cancelled by user")
				}
			}

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var results []*manager.DeleteResult
			var failed int
			for _, ref := range args {
				var res *manager.DeleteResult
				err := a.instrument(ctx, "schedule.delete", func(ctx context.Context) error {
					var err error
					res, err = a.manager.Delete(ctx, ref, "cli")
					return err
				})
				if err != nil {
					failed++
					fmt.Printf("%s: %v\n", ref, err)
					continue
				}
				results = append(results, res)
				if jsonOutput {
					continue
				}
				fmt.Printf("Deleted schedule %s\n", res.Href)
				if res.NoteError != nil {
					fmt.Printf("  note not removed: %v\n", res.NoteError)
				}
			}
			if jsonOutput {
				if err := printJSON(results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletions failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newScheduleImportCommand() *cobra.Command {
	var (
		replace bool
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import schedules from a JSON document",
		Long: `Import a schedule document as written by export or by earlier versions of
the scheduler. Records are merged into the store; with --replace the store
is emptied first. Every record is validated and checked against the
admission policies before anything is written.`,
		Example: `  pcesched schedule import rule_schedules.json
  pcesched schedule import backup.json --replace --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if replace && !yes {
				ok := false
				prompt := &survey.Confirm{
					Message: "Replace every stored schedule with the contents of " + args[0] + "?",
					Default: false,
				}
				if err := survey.AskOne(prompt, &ok); err != nil {
					return fmt.Errorf("confirmation failed: %w", err)
				}
				if !ok {
					return fmt.Errorf("operation cancelled by user")
				}
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *manager.ImportResult
			err = a.instrument(ctx, "schedule.import", func(ctx context.Context) error {
				var err error
				res, err = a.manager.Import(ctx, f, replace, "cli")
				return err
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("Imported %d schedule(s)\n", res.Count)
			for _, w := range res.Warnings {
				fmt.Printf("  warning (%s) %s: %s\n", w.Policy, w.Href, w.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing schedules first")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newScheduleExportCommand() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export schedules as a JSON or YAML document",
		Example: `  pcesched schedule export > rule_schedules.json
  pcesched schedule export --format yaml --output schedules.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			w := os.Stdout
			if output != "" && output != "-" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.manager.Export(cmd.Context(), w, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file")

	return cmd
}
