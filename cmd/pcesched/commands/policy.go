package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pcesched/pcesched/pkg/schedule"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect admission policies",
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyTestCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and custom policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			policies := a.policies.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range policies {
				src := p.Source
				if p.Builtin {
					src = "builtin"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, src, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newPolicyTestCommand() *cobra.Command {
	var operation string

	cmd := &cobra.Command{
		Use:   "test <schedules.json>",
		Short: "Evaluate a schedule document against the policies without storing it",
		Example: `  pcesched policy test rule_schedules.json
  pcesched policy test new.json --operation create`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := schedule.ReadDocument(f)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			rejected := 0
			for _, href := range doc.Hrefs() {
				res, err := a.policies.Evaluate(cmd.Context(), href, doc[href], operation, "cli")
				if err != nil {
					return err
				}
				if !res.Allowed {
					rejected++
				}
				if len(res.Violations) == 0 {
					fmt.Printf("ok       %s\n", href)
					continue
				}
				for _, v := range res.Violations {
					fmt.Printf("%-8s %s: %s (%s)\n", strings.ToLower(string(v.Severity)), href, v.Message, v.Policy)
				}
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d schedules rejected", rejected, len(doc))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "import", "operation to evaluate as (create, update or import)")

	return cmd
}
