package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// printJob writes a job record as an aligned table.
func printJob(w io.Writer, job progress.Job) {
	fmt.Fprintf(w, "%-12s %s\n", "Task:", job.ID)
	if job.FileName != "" {
		fmt.Fprintf(w, "%-12s %s\n", "File:", job.FileName)
	}
	if job.Strategy != "" {
		fmt.Fprintf(w, "%-12s %s\n", "Strategy:", job.Strategy)
	}
	fmt.Fprintf(w, "%-12s %s\n", "Status:", job.Status)
	fmt.Fprintf(w, "%-12s %.2f%%\n", "Progress:", job.Progress)
	fmt.Fprintf(w, "%-12s %d/%d processed, %d succeeded, %d failed, %d skipped\n",
		"Rows:", job.ProcessedRows, job.TotalRows, job.SuccessfulRows, job.FailedRows, job.SkippedRows)
	if job.TotalChunks > 0 {
		fmt.Fprintf(w, "%-12s %d/%d\n", "Chunks:", job.CompletedChunks, job.TotalChunks)
	}
	if job.Message != "" {
		fmt.Fprintf(w, "%-12s %s\n", "Message:", job.Message)
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "%-12s %s\n", "Finished:", job.CompletedAt.Local().Format(time.DateTime))
	}
	if len(job.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, e := range job.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
}
