package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalog-import/internal/progress"
)

type importOptions struct {
	strategy  string
	delimiter string
	encoding  string
	wait      bool
	interval  time.Duration
}

func newImportCmd(g *globalOptions) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Upload a CSV file and start an import",
		Long: `Upload a CSV product file to the server.

The server answers once the header has been read; the rows are processed
in the background. Use --wait to follow the job until it finishes.`,
		Example: `  importctl import products.csv
  importctl import products.csv --strategy preload --delimiter ';' --wait
  importctl import legacy.csv --encoding windows-1252`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, g, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "reconciliation strategy: chunked or preload (server default when empty)")
	cmd.Flags().StringVar(&opts.delimiter, "delimiter", "", "field delimiter, or tab (detected when empty)")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "source charset, e.g. windows-1252 (server default when empty)")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait for the import to finish")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "progress poll interval with --wait")
	return cmd
}

func runImport(cmd *cobra.Command, g *globalOptions, opts *importOptions, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client := g.client()
	accepted, err := client.Upload(ctx, path, UploadOptions{
		Strategy:  opts.strategy,
		Delimiter: opts.delimiter,
		Encoding:  opts.encoding,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s %s: %s\n", accepted.TaskID, accepted.Status, accepted.Message)
	if !opts.wait {
		return nil
	}
	return waitForJob(ctx, cmd, client, accepted.TaskID, opts.interval)
}

// waitForJob follows a job until it is terminal. Interrupting the wait
// leaves the job running on the server.
func waitForJob(ctx context.Context, cmd *cobra.Command, client *Client, id string, interval time.Duration) error {
	out := cmd.OutOrStdout()
	var last float64 = -1
	job, err := client.Wait(ctx, id, interval, func(j progress.Job) {
		if j.Progress != last && !j.Status.Terminal() {
			fmt.Fprintf(out, "  %6.2f%%  %d/%d rows\n", j.Progress, j.ProcessedRows, j.TotalRows)
			last = j.Progress
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("stopped waiting; task %s is still running on the server", id)
		}
		return err
	}

	printJob(out, job)
	if job.Status == progress.StatusFailed {
		return fmt.Errorf("import %s failed: %s", id, job.Message)
	}
	return nil
}
