package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRuleSetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rulesets",
		Aliases: []string{"rs"},
		Short:   "Browse rule sets on the PCE",
	}

	cmd.AddCommand(newRuleSetsListCommand())
	cmd.AddCommand(newRuleSetsSearchCommand())
	cmd.AddCommand(newRuleSetsShowCommand())

	return cmd
}

func newRuleSetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuleSets(cmd, "")
		},
	}
}

func newRuleSetsSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "search <keyword>",
		Short:   "List rule sets whose name contains keyword",
		Example: `  pcesched rulesets search web`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuleSets(cmd, args[0])
		},
	}
}

func listRuleSets(cmd *cobra.Command, query string) error {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	sets, err := a.manager.RuleSets(cmd.Context(), query)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sets)
	}
	if len(sets) == 0 {
		fmt.Println("No rule sets found.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSCHEDULE\tNAME")
	for _, rs := range sets {
		status := "off"
		if rs.Enabled {
			status = "on"
		}
		sched := "-"
		switch rs.Scheduled {
		case "self":
			sched = "ruleset"
		case "child":
			sched = "rules"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rs.ID, status, sched, rs.Name)
	}
	return tw.Flush()
}

func newRuleSetsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <id>",
		Short:   "Show a rule set and its rules",
		Example: `  pcesched rulesets show 5`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			detail, err := a.manager.RuleSet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(detail)
			}

			fmt.Printf("%s  %s\n\n", detail.Name, detail.Href)
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSCHED\tSOURCE\tDESTINATION\tSERVICE\tDESCRIPTION")
			for _, r := range detail.Rules {
				status := "off"
				if r.Enabled {
					status = "on"
				}
				sched := ""
				if r.Scheduled {
					sched = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, status, sched, r.Source, r.Destination, r.Service, r.Description)
			}
			return tw.Flush()
		},
	}
}
