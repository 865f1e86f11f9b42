package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or running import",
		Long: `Cancel an import. Rows already written stay in the catalog; workers
stop at their next chunk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := g.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", job.ID)
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}
