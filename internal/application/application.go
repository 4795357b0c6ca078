// Package application wires configuration into a running import service.
// Both the HTTP server and the command-line tool build on it.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/config"
	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/importer"
	"github.com/JonMunkholm/ResourceImport/internal/remote"
	"github.com/JonMunkholm/ResourceImport/internal/store"
)

// App holds the wired components. Close releases them.
type App struct {
	Config   *config.Config
	Registry *catalog.Registry
	Service  *core.Service
	Store    *store.Store // nil when no database is configured

	pool    *pgxpool.Pool
	watcher *catalog.Watcher
}

// New loads the catalogs, connects the database when one is configured,
// selects the create target and builds the service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	registry, err := LoadRegistry(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Registry: registry}

	if cfg.UsesDatabase() {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.pool = pool
		app.Store = store.New(pool)

		if cfg.Database.EnsureSchema {
			if err := app.Store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
	}

	creator, err := NewCreator(cfg.Target, app.pool)
	if err != nil {
		app.Close()
		return nil, err
	}

	// A nil *store.Store must not become a non-nil interface.
	var (
		runs    core.RunStore
		presets core.PresetStore
	)
	if app.Store != nil {
		runs, presets = app.Store, app.Store
	}

	app.Service = core.NewService(registry, importer.New(creator, cfg.Import.BatchSize), runs, presets, core.Options{
		MaxFileSize:    cfg.Import.MaxFileSize,
		MaxConcurrent:  cfg.Import.MaxConcurrent,
		MaxWait:        cfg.Import.MaxWaitTime,
		SessionTTL:     cfg.Import.SessionTTL,
		CompletedGrace: cfg.Import.CompletedGrace,
	})

	slog.Info("import service ready",
		"resource_types", registry.Types(),
		"target", cfg.Target.Kind,
		"batch_size", cfg.Import.BatchSize,
		"ledger", app.Store != nil,
	)
	return app, nil
}

// LoadRegistry returns the built-in catalogs, or the catalog file when a
// path is configured.
func LoadRegistry(cfg config.CatalogConfig) (*catalog.Registry, error) {
	if cfg.Path == "" {
		return catalog.NewRegistry(catalog.Builtin()...)
	}
	catalogs, err := catalog.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", cfg.Path, err)
	}
	return catalog.NewRegistry(catalogs...)
}

// NewCreator returns the create target for the configured kind. The
// postgres target needs a pool.
func NewCreator(cfg config.TargetConfig, pool *pgxpool.Pool) (importer.Creator, error) {
	switch cfg.Kind {
	case config.TargetPostgres:
		if pool == nil {
			return nil, fmt.Errorf("target %q requires DATABASE_URL", cfg.Kind)
		}
		return store.NewResourceTarget(pool), nil
	case config.TargetHTTP:
		return remote.NewClient(remote.Config{
			URL:               cfg.URL,
			APIKey:            cfg.APIKey,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Timeout:           cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown target kind %q", cfg.Kind)
	}
}

// Start runs background work until ctx ends: the idle-session janitor and,
// when enabled, the catalog file watcher.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Catalog.Path != "" && a.Config.Catalog.Watch {
		w, err := catalog.NewWatcher(a.Config.Catalog.Path, a.Registry)
		if err != nil {
			return fmt.Errorf("catalog watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("catalog watcher: %w", err)
		}
		a.watcher = w
	}

	go a.Service.RunJanitor(ctx, a.Config.Import.SweepInterval)
	return nil
}

// Close stops the watcher and closes the database pool.
func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
