package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcesched/pcesched/pkg/config"
	"github.com/pcesched/pcesched/pkg/engine"
)

func newMonitorCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run reconciliation passes continuously",
		Long: `Run a pass immediately and then once per check interval until interrupted.

The config file is watched: changed PCE credentials, check interval and
time zone take effect without a restart. Policy files are watched as well.
Metrics are served on metrics.listen when enabled.`,
		Example: `  # Check every five minutes (the default)
  pcesched monitor

  # Check every minute
  pcesched monitor --interval 1m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("interval") {
				a.cfg.CheckInterval = interval
			}
			if err := a.startBackground(ctx); err != nil {
				return err
			}

			reload := make(chan *config.Config, 1)
			if a.loader.ConfigFileUsed() != "" {
				err := a.loader.Watch(ctx, a.log.Zerolog(), func(cfg *config.Config) {
					if cmd.Flags().Changed("interval") {
						cfg.CheckInterval = interval
					}
					select {
					case <-reload:
					default:
					}
					reload <- cfg
				})
				if err != nil {
					a.log.WithError(err).Warn("Config file will not be watched")
				}
			}

			return runMonitor(ctx, a, reload)
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "check interval (overrides check_interval)")

	return cmd
}

// startBackground starts the metrics server and the policy watcher.
func (a *app) startBackground(ctx context.Context) error {
	if err := a.tel.StartMetricsServer(); err != nil {
		return err
	}
	if a.cfg.Metrics.Enabled {
		a.log.WithField("addr", a.cfg.Metrics.Listen).Info("Metrics server started")
	}
	if len(a.cfg.Policy.Paths) > 0 {
		if err := a.policies.Watch(ctx, a.cfg.Policy.Paths); err != nil {
			a.log.WithError(err).Warn("Policy files will not be watched")
		}
	}
	return nil
}

// runMonitor runs passes until ctx is done. A pass always finishes before
// the next one starts. Configurations received on reload replace the PCE
// connection and the interval.
func runMonitor(ctx context.Context, a *app, reload <-chan *config.Config) error {
	interval := a.cfg.CheckInterval
	a.log.WithField("interval", interval.String()).Info("Monitor started")

	pass := func() {
		if _, err := a.engine.Check(ctx, engine.CheckOptions{Source: "monitor"}); err != nil && ctx.Err() == nil {
			if engine.IsTransient(err) {
				a.log.WithError(err).Warn("Check interrupted, retrying next interval")
			} else {
				a.log.WithError(err).Error("Check failed")
			}
		}
	}

	pass()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Monitor stopped")
			return nil

		case <-ticker.C:
			pass()

		case cfg := <-reload:
			if err := a.reconfigure(cfg); err != nil {
				a.log.WithError(err).Error("Keeping previous configuration")
				continue
			}
			if cfg.CheckInterval != interval {
				interval = cfg.CheckInterval
				ticker.Reset(interval)
				a.log.WithField("interval", interval.String()).Info("Check interval changed")
			}
		}
	}
}

// reconfigure applies a reloaded configuration: the time zone, and the PCE
// connection when its settings or the engine settings changed.
func (a *app) reconfigure(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	if err := cfg.ApplyTimezone(); err != nil {
		return err
	}

	if cfg.ToPCEConfig() != a.cfg.ToPCEConfig() || cfg.Engine != a.cfg.Engine {
		if err := a.connect(cfg); err != nil {
			return err
		}
		a.log.Info("PCE connection updated")
	} else if cfg.Timezone != a.cfg.Timezone {
		a.engine.SetLocation(loc)
		a.log.WithField("timezone", cfg.Timezone).Info("Time zone changed")
	}
	a.cfg = cfg
	return nil
}
