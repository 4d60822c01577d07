package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pcesched/pcesched/pkg/config"
	"github.com/pcesched/pcesched/pkg/pce"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show and validate the configuration",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		cfg         = config.Default()
		force       bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a new config file",
		Long: `Write a config file with default settings and the given PCE connection.
Missing connection settings are prompted for with --interactive.`,
		Example: `  # Write pcesched.yaml in the current directory
  pcesched config init --pce-url https://pce.example.com:8443 --org-id 1 \
    --api-key api_123 --api-secret secret

  # Prompt for the connection settings
  pcesched config init -i --config /etc/pcesched/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}

			if interactive {
				if err := promptConnection(cfg); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.WriteFile(path, cfg, force); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", path)
			if err := cfg.ValidatePCE(); err != nil {
				fmt.Printf("PCE connection incomplete: %v\n", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.PCEURL, "pce-url", "", "PCE address, e.g. https://pce.example.com:8443")
	cmd.Flags().StringVar(&cfg.OrgID, "org-id", "", "organization ID")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", "", "API key user")
	cmd.Flags().StringVar(&cfg.APISecret, "api-secret", "", "API key secret")
	cmd.Flags().StringVar(&cfg.DatabasePath, "database", cfg.DatabasePath, "schedule database path")
	cmd.Flags().DurationVar(&cfg.CheckInterval, "interval", cfg.CheckInterval, "check interval")
	cmd.Flags().StringVar(&cfg.Timezone, "timezone", "", "IANA time zone used to evaluate windows (default local)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for missing connection settings")

	return cmd
}

func promptConnection(cfg *config.Config) error {
	var qs []*survey.Question
	if cfg.PCEURL == "" {
		qs = append(qs, &survey.Question{
			Name:     "pce_url",
			Prompt:   &survey.Input{Message: "PCE URL:"},
			Validate: survey.Required,
		})
	}
	if cfg.OrgID == "" {
		qs = append(qs, &survey.Question{
			Name:     "org_id",
			Prompt:   &survey.Input{Message: "Org ID:", Default: "1"},
			Validate: survey.Required,
		})
	}
	if cfg.APIKey == "" {
		qs = append(qs, &survey.Question{
			Name:     "api_key",
			Prompt:   &survey.Input{Message: "API key:"},
			Validate: survey.Required,
		})
	}
	if cfg.APISecret == "" {
		qs = append(qs, &survey.Question{
			Name:     "api_secret",
			Prompt:   &survey.Password{Message: "API secret:"},
			Validate: survey.Required,
		})
	}
	if len(qs) == 0 {
		return nil
	}

	answers := struct {
		PCEURL    string `survey:"pce_url"`
		OrgID     string `survey:"org_id"`
		APIKey    string `survey:"api_key"`
		APISecret string `survey:"api_secret"`
	}{cfg.PCEURL, cfg.OrgID, cfg.APIKey, cfg.APISecret}
	if err := survey.Ask(qs, &answers); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	cfg.PCEURL = answers.PCEURL
	cfg.OrgID = answers.OrgID
	cfg.APIKey = answers.APIKey
	cfg.APISecret = answers.APISecret
	return nil
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			red := cfg.Redacted()
			if jsonOutput {
				return printJSON(red)
			}
			if used := loader.ConfigFileUsed(); used != "" {
				fmt.Printf("# %s\n", used)
			} else {
				fmt.Println("# no config file; defaults and environment only")
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(red); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and optionally test the PCE connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePCE(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid")
			if !ping {
				return nil
			}

			client, err := pce.NewClient(cfg.ToPCEConfig(), loggerFor(cfg))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("PCE connection failed: %w", err)
			}
			fmt.Printf("Connected to %s (org %s)\n", cfg.PCEURL, client.OrgID())
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "contact the PCE")

	return cmd
}
