package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcesched/pcesched/pkg/api"
)

func newServeCommand() *cobra.Command {
	var (
		listen      string
		withMonitor bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the JSON API used by browser front-ends and external triggers.

Routes:
  GET    /healthz
  GET    /metrics
  GET    /api/rulesets?q=
  GET    /api/rulesets/:id
  GET    /api/schedules
  POST   /api/schedules
  DELETE /api/schedules?href=   (or /api/schedules/:id)
  POST   /api/check

With --monitor the process also runs passes on the check interval.`,
		Example: `  # Serve on the configured address
  pcesched serve

  # Serve on port 8080 and run the scheduler in the same process
  pcesched serve --listen :8080 --monitor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.HTTP.Listen
			}
			if len(a.cfg.Policy.Paths) > 0 {
				if err := a.policies.Watch(ctx, a.cfg.Policy.Paths); err != nil {
					a.log.WithError(err).Warn("Policy files will not be watched")
				}
			}

			srv := api.NewServer(a.manager, a.engine,
				api.WithHealth(a.store),
				api.WithMetrics(a.tel.Metrics),
				api.WithLogger(a.log),
				api.WithCheckTimeout(a.cfg.HTTP.CheckTimeout),
			)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(listen) }()

			if withMonitor {
				go func() {
					if err := runMonitor(ctx, a, nil); err != nil {
						a.log.WithError(err).Error("Monitor failed")
					}
				}()
			}

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides http.listen)")
	cmd.Flags().BoolVar(&withMonitor, "monitor", false, "also run passes on the check interval")

	return cmd
}
