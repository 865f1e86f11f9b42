package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalog-import/internal/admin"
	"github.com/JonMunkholm/catalog-import/internal/application"
)

func newResetCmd() *cobra.Command {
	var (
		yes      bool
		jobsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all products and job records",
		Long: `Delete every product and import job record from the configured
databases. With --jobs-only the catalog is kept. Requires --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes data; pass --yes to confirm")
			}
			return withDatabases(cmd.Context(), func(ctx context.Context, app *application.App) error {
				ctx, cancel := context.WithTimeout(ctx, admin.ResetTimeout)
				defer cancel()

				for _, r := range app.Resetters() {
					reset, what := r.ResetAll, "products and jobs"
					if jobsOnly {
						reset, what = r.ResetJobs, "jobs"
					}
					if err := reset(ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Reset %s in %s\n", what, r.Name())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	cmd.Flags().BoolVar(&jobsOnly, "jobs-only", false, "only delete import job records")
	return cmd
}
