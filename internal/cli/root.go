// Package cli provides the importctl command-line interface.
//
// import, progress and cancel talk to a running server over its HTTP API.
// migrate and reset open the configured databases directly.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalog-import/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

// globalOptions holds the persistent flags.
type globalOptions struct {
	server  string
	verbose bool
}

func (o *globalOptions) client() *Client {
	return NewClient(o.server)
}

// NewRootCmd builds the importctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "importctl",
		Short: "Import product catalogs from CSV files",
		Long: `importctl uploads CSV product files to a catalog-import server, follows
their progress and cancels them. It can also migrate and reset the
configured databases.

Settings are read from the environment and a .env file in the working
directory, the same way the server reads them.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			slog.SetDefault(logging.NewLogger(cmd.ErrOrStderr(), level, "text"))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("IMPORTCTL_SERVER", "http://localhost:8080"), "catalog-import server URL")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newImportCmd(opts),
		newProgressCmd(opts),
		newCancelCmd(opts),
		newMigrateCmd(),
		newResetCmd(),
	)
	return cmd
}

// Execute loads .env and runs the command tree with os.Args.
func Execute(stdout, stderr io.Writer) error {
	// A missing .env file is fine; the environment may be set already.
	_ = godotenv.Overload()

	cmd := NewRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
