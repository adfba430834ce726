package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/juju/clock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go"

	"github.com/livinlefevreloca/upkeep/internal/cache"
	"github.com/livinlefevreloca/upkeep/internal/config"
	"github.com/livinlefevreloca/upkeep/internal/db"
	"github.com/livinlefevreloca/upkeep/internal/logscan"
	"github.com/livinlefevreloca/upkeep/internal/mailer"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/report"
	"github.com/livinlefevreloca/upkeep/internal/sampler"
	"github.com/livinlefevreloca/upkeep/internal/state"
	"github.com/livinlefevreloca/upkeep/internal/updater"
	"github.com/livinlefevreloca/upkeep/internal/wpcli"
)

// app holds the long-lived resources shared by the commands
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB
	store  *state.Store
	nc     *nats.Conn
}

// loadApp reads and validates the configuration, sets up logging, and opens
// and migrates the database.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !cfg.Database.SkipMigrations {
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		version, err := database.SchemaVersion(ctx)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("read schema version: %w", err)
		}
		logger.Info("database schema ready", "version", version)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     database,
		store:  state.NewStore(database),
	}, nil
}

func (a *app) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// orchestrator wires the task collaborators around settings and returns the
// run orchestrator.
func (a *app) orchestrator(settings maintenance.SettingsSource, observer maintenance.Observer) (*maintenance.Orchestrator, error) {
	cfg := a.cfg
	logger := a.logger

	client := wpcli.New(cfg.WPCLI, wpcli.ExecRunner, logger.With("component", "wpcli"))

	invalidator, err := a.invalidator(client)
	if err != nil {
		return nil, err
	}

	renderer, err := report.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("load report template: %w", err)
	}

	smtp, err := mailer.New(cfg.MailConfig(), logger.With("component", "mailer"))
	if err != nil {
		return nil, fmt.Errorf("configure mailer: %w", err)
	}

	deps := maintenance.Dependencies{
		Settings: settings,
		Updater:  updater.New(client, logger.With("component", "updater")),
		Cache:    invalidator,
		Logs:     logscan.New(cfg.Site.ErrorLog, clock.WallClock, cfg.Location(), logger.With("component", "logscan")),
		Sampler: sampler.New(client, sampler.Config{
			HomeURL:      cfg.Site.HomeURL,
			SitePath:     cfg.Site.Path,
			ProbeTimeout: cfg.Maintenance.ProbeTimeout,
		}, clock.WallClock, logger.With("component", "sampler")),
		Renderer: renderer,
		Mailer:   smtp,
		State:    a.store,
		Lease:    a.store,
		Observer: observer,
	}

	return maintenance.NewOrchestrator(deps, maintenance.Options{
		SiteName:   cfg.Site.Name,
		RunTimeout: cfg.Maintenance.RunTimeout,
		Location:   cfg.Location(),
		Logger:     logger.With("component", "maintenance"),
	})
}

// invalidator builds the cache backends. Without configured backends every
// known page-cache preset is tried, as absent plugins report nothing cleared.
func (a *app) invalidator(client *wpcli.Client) (*cache.Invalidator, error) {
	cfg := a.cfg

	var pub cache.Publisher
	if cfg.Cache.NATS.URL != "" {
		nc, err := nats.Connect(cfg.Cache.NATS.URL, nats.Name(cfg.Cache.NATS.Name))
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.nc = nc
		pub = nc
	}

	registry := cache.NewRegistry()
	if err := registry.Register("wpcli", client.Factory()); err != nil {
		return nil, err
	}
	if err := cache.RegisterDefaults(registry, cfg.Site.Name, pub); err != nil {
		return nil, err
	}

	specs := cfg.Cache.Backends
	if len(specs) == 0 {
		specs = presetSpecs()
	}
	backends, err := registry.CreateAll(specs)
	if err != nil {
		return nil, fmt.Errorf("create cache backends: %w", err)
	}

	return cache.NewInvalidator(a.db, backends,
		cache.WithObjectCache(client.NewCacheCommand("object-cache", wpcli.ObjectCacheArgs)),
		cache.WithLogger(a.logger.With("component", "cache")),
	), nil
}

func presetSpecs() []cache.BackendSpec {
	names := make([]string, 0, len(wpcli.Presets))
	for name := range wpcli.Presets {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]cache.BackendSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, cache.BackendSpec{Type: "wpcli", Preset: name})
	}
	return specs
}
