package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newProgressCmd(g *globalOptions) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:     "progress TASK_ID",
		Aliases: []string{"status"},
		Short:   "Show the progress of an import",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := g.client()
			if wait {
				return waitForJob(cmd.Context(), cmd, client, args[0], interval)
			}
			job, err := client.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the import to finish")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "progress poll interval with --wait")
	return cmd
}
