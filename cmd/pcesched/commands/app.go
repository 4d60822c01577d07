package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pcesched/pcesched/pkg/config"
	"github.com/pcesched/pcesched/pkg/engine"
	"github.com/pcesched/pcesched/pkg/manager"
	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/policy"
	"github.com/pcesched/pcesched/pkg/stores"
	"github.com/pcesched/pcesched/pkg/telemetry"
)

// app holds the components shared by the commands.
type app struct {
	loader *config.Loader
	cfg    *config.Config
	tel    *telemetry.Telemetry
	log    *telemetry.Logger

	store    *stores.SQLiteStore
	policies *policy.Engine

	// client, manager and engine are rebuilt by connect.
	client  *pce.Client
	manager *manager.Manager
	engine  *engine.Engine
}

func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.ApplyTimezone(); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// openApp loads the configuration and opens the store. When requirePCE is
// set, a missing or invalid PCE connection is an error; otherwise commands
// that never contact the PCE still work without one.
func openApp(ctx context.Context, requirePCE bool) (*app, error) {
	loader, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.ToTelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Log.Level))
	log.Logger = tel.Logger.Zerolog()

	a := &app{loader: loader, cfg: cfg, tel: tel, log: tel.Logger}
	if used := loader.ConfigFileUsed(); used != "" {
		a.log.WithField("path", used).Debug("Configuration loaded")
	}

	a.store, err = stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := a.store.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.policies, err = policy.NewEngine(a.log.Zerolog(), policy.WithMetrics(tel.Metrics))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := a.policies.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	if err := a.connect(cfg); err != nil {
		if requirePCE {
			a.Close()
			return nil, err
		}
		a.log.WithError(err).Debug("Running without a PCE connection")
		a.manager = manager.New(a.store, nil, manager.WithPolicies(a.policies), manager.WithLogger(a.log))
	}
	return a, nil
}

// connect builds the PCE client and the components that use it from cfg.
func (a *app) connect(cfg *config.Config) error {
	pcfg := cfg.ToPCEConfig()
	if err := pcfg.Validate(); err != nil {
		return fmt.Errorf("PCE connection is not configured: %w", err)
	}
	client, err := pce.NewClient(pcfg, a.log.Zerolog(), pce.WithRequestObserver(a.tel.Metrics.RecordPCERequest))
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	a.client = client
	a.manager = manager.New(a.store, client,
		manager.WithPolicies(a.policies),
		manager.WithLogger(a.log),
		manager.WithCatalog(client, client.Labels()),
	)
	a.engine = engine.New(a.store, client,
		engine.WithLogger(a.log),
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer),
		engine.WithRetainFailedExpiry(cfg.Engine.RetainFailedExpiry),
		engine.WithLocation(loc),
	)
	a.cfg = cfg
	return nil
}

// Close releases the store and flushes telemetry.
func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// loggerFor returns a logger configured from cfg for commands that do not
// open the store.
func loggerFor(cfg *config.Config) zerolog.Logger {
	return telemetry.NewLoggerWithWriter(cfg.ToTelemetryConfig(buildVersion).Logging, os.Stderr).Zerolog()
}

// instrument runs fn as a traced operation named name.
func (a *app) instrument(ctx context.Context, name string, fn func(context.Context) error) error {
	op := telemetry.StartOperation(a.tel.WithContext(ctx), name)
	err := fn(op.Ctx)
	op.End(err)
	if err == nil {
		op.Logger.WithField("duration", op.Timer.Duration().String()).Debug("Operation finished")
	}
	return err
}
