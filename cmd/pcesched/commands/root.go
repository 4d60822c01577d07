package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pcesched",
		Short: "pcesched - time-windowed scheduler for PCE rules and rule sets",
		Long: `pcesched enables and disables PCE security rules and rule sets on a schedule.

Schedules are either recurring weekly windows (allow inside the window or
block inside it) or one-time expirations after which the object is disabled
and the schedule removed. Each check compares the desired state with the
live state on the PCE, toggles what differs and provisions the change.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newMonitorCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newRuleSetsCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
