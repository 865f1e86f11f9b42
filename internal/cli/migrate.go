package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalog-import/internal/application"
	"github.com/JonMunkholm/catalog-import/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog and job tables",
		Long: `Create the products and import_jobs tables in every database the
configuration selects. Running it again is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabases(cmd.Context(), func(ctx context.Context, app *application.App) error {
				if err := app.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s store\n", app.Config.Store.Driver)
				return nil
			})
		},
	}
}

// withDatabases loads configuration, connects the databases and runs fn.
func withDatabases(ctx context.Context, fn func(context.Context, *application.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := application.OpenDatabases(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("close databases", "error", err)
		}
	}()

	return fn(ctx, app)
}
