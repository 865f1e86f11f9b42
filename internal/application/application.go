// Package application assembles the stores, worker pool, notifier and
// import service from configuration. Both the HTTP server and importctl
// start from Open.
package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalog-import/internal/admin"
	"github.com/JonMunkholm/catalog-import/internal/catalog"
	catalogpg "github.com/JonMunkholm/catalog-import/internal/catalog/pgstore"
	catalogsqlite "github.com/JonMunkholm/catalog-import/internal/catalog/sqlitestore"
	"github.com/JonMunkholm/catalog-import/internal/config"
	"github.com/JonMunkholm/catalog-import/internal/core"
	"github.com/JonMunkholm/catalog-import/internal/database"
	"github.com/JonMunkholm/catalog-import/internal/dispatch"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/progress"
	progresspg "github.com/JonMunkholm/catalog-import/internal/progress/pgstore"
	progresssqlite "github.com/JonMunkholm/catalog-import/internal/progress/sqlitestore"
)

// App is a fully wired import service and the resources behind it.
type App struct {
	Config   *config.Config
	Catalog  catalog.Store
	Jobs     progress.Store
	Pool     *dispatch.Pool
	Notifier *events.WebhookNotifier
	Service  *core.Service

	pg     *pgxpool.Pool
	sqlite *sql.DB
}

// Open connects the configured stores, applies migrations when
// DB_AUTO_MIGRATE is set, and starts the worker pool and notifier.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			a.closeDatabases()
			return nil, err
		}
	}

	var err error
	if a.Catalog, err = a.catalogStore(); err != nil {
		a.closeDatabases()
		return nil, err
	}
	if a.Jobs, err = a.progressStore(); err != nil {
		a.closeDatabases()
		return nil, err
	}

	a.Pool = dispatch.NewPool(cfg.Import.Workers, cfg.Import.QueueSize)
	a.Notifier = events.NewWebhookNotifier(cfg.Webhook, cfg.File.Webhooks)
	a.Service = core.NewService(a.Catalog, a.Jobs, a.Pool, a.Notifier, core.OptionsFromConfig(cfg))

	slog.Info("application ready",
		"catalog_store", cfg.Store.Driver,
		"progress_store", cfg.Store.ProgressStoreDriver(),
		"workers", cfg.Import.Workers,
		"webhook_subscribers", a.Notifier.Subscribers(),
	)
	return a, nil
}

// OpenDatabases connects the configured databases without starting any
// workers. It is used by maintenance commands.
func OpenDatabases(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.Store.UsesPostgres() {
		pool, err := database.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.pg = pool
	}
	if cfg.Store.UsesSQLite() {
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path, cfg.SQLite.BusyTimeout)
		if err != nil {
			a.closeDatabases()
			return err
		}
		a.sqlite = db
	}
	return nil
}

// Migrate creates the schema in every connected database.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg != nil {
		if err := database.MigratePostgres(ctx, a.pg); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	if a.sqlite != nil {
		if err := database.MigrateSQLite(ctx, a.sqlite); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Resetters returns one admin.Resetter per connected database.
func (a *App) Resetters() []*admin.Resetter {
	var out []*admin.Resetter
	if a.pg != nil {
		out = append(out, admin.ForPostgres(a.pg))
	}
	if a.sqlite != nil {
		out = append(out, admin.ForSQLite(a.sqlite))
	}
	return out
}

func (a *App) catalogStore() (catalog.Store, error) {
	switch a.Config.Store.Driver {
	case config.DriverPostgres:
		return catalogpg.New(a.pg), nil
	case config.DriverSQLite:
		return catalogsqlite.New(a.sqlite), nil
	}
	return nil, fmt.Errorf("unsupported catalog store %q", a.Config.Store.Driver)
}

func (a *App) progressStore() (progress.Store, error) {
	switch d := a.Config.Store.ProgressStoreDriver(); d {
	case config.DriverPostgres:
		return progresspg.New(a.pg), nil
	case config.DriverSQLite:
		return progresssqlite.New(a.sqlite), nil
	case config.DriverMemory:
		return progress.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported progress store %q", d)
	}
}

// Close waits for running imports, stops the workers, flushes pending
// webhooks and closes the databases. Imports still running when ctx ends
// are abandoned.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.WaitForImports(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for imports: %w", err))
		}
		if err := a.Service.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close service: %w", err))
		}
	}
	if a.Pool != nil {
		if err := a.Pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}
	if a.Notifier != nil {
		if err := a.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
		if n := a.Notifier.Dropped(); n > 0 {
			slog.Warn("webhook events dropped during run", "dropped_total", n)
		}
	}
	if a.Catalog != nil {
		if err := a.Catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	if err := a.closeDatabases(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeDatabases() error {
	if a.pg != nil {
		a.pg.Close()
		a.pg = nil
	}
	if a.sqlite != nil {
		db := a.sqlite
		a.sqlite = nil
		if err := db.Close(); err != nil {
			return fmt.Errorf("close sqlite: %w", err)
		}
	}
	return nil
}
