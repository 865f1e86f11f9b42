package core

// coordinator.go fans a file out to the dispatch pool in fixed-size chunks.
//
// Records are read from the spooled file and cut into chunks of ChunkSize as
// they arrive; each chunk carries its absolute offset and row numbers so
// results can be counted correctly whatever order chunks finish in. All
// chunks of a job form one dispatch group named after the job id. When the
// group is done the job is promoted to completed unless it is terminal.
//
// A chunk that returns an error is retried with exponential backoff. Once
// retries are exhausted its rows are recorded as failed and the job carries
// on. Only a failure to dispatch at all fails the job.
//
// Cancellation is cooperative: each chunk checks the job status before
// writing, and queued chunks of a cancelled job are revoked. A chunk already
// writing finishes, so a cancel takes effect within one chunk per worker.

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/dispatch"
	"github.com/JonMunkholm/catalog-import/internal/logging"
	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// recordTimeout bounds the progress writes made for a finished chunk.
const recordTimeout = 5 * time.Second

// recordAttempts is how often a chunk's progress write is tried, waiting
// recordRetryDelay more before each retry.
const (
	recordAttempts   = 3
	recordRetryDelay = 100 * time.Millisecond
)

// CoordinatorOptions tunes a Coordinator.
type CoordinatorOptions struct {
	ChunkSize  int
	MaxRetries int
	Backoff    Backoff
}

// Coordinator dispatches chunked jobs.
type Coordinator struct {
	pool       *dispatch.Pool
	reconciler *ChunkReconciler
	tracker    *Tracker
	opts       CoordinatorOptions
}

// NewCoordinator creates a coordinator.
func NewCoordinator(pool *dispatch.Pool, reconciler *ChunkReconciler, tracker *Tracker, opts CoordinatorOptions) *Coordinator {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 100
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Coordinator{pool: pool, reconciler: reconciler, tracker: tracker, opts: opts}
}

// Run dispatches every record of rr and waits for the group to finish, then
// completes the job. An error means the job could not be dispatched or
// waited on; the caller marks it failed.
func (c *Coordinator) Run(ctx context.Context, jobID string, rr *RecordReader, ex Extractor) error {
	log := logging.WithFields(ctx, "job_id", jobID, "strategy", StrategyChunked)

	g, err := c.Dispatch(ctx, jobID, rr, ex)
	if err != nil {
		if g != nil {
			g.Revoke()
			c.release(ctx, g)
		}
		return err
	}

	defer c.pool.Release(g.ID())

	select {
	case <-g.Done():
	case <-ctx.Done():
		g.Revoke()
		return fmt.Errorf("wait for chunks: %w", ctx.Err())
	}

	job, err := c.tracker.Complete(ctx, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	log.Info("import finished",
		"status", job.Status,
		"chunks", job.CompletedChunks,
		"processed", job.ProcessedRows,
		"succeeded", job.SuccessfulRows,
		"failed", job.FailedRows,
		"skipped", job.SkippedRows,
	)
	return nil
}

// Dispatch submits the chunks of rr as one sealed group and records the
// group id and chunk count on the job. Submission blocks while the pool's
// queue is full. On error the partially submitted group is returned so the
// caller can revoke it.
func (c *Coordinator) Dispatch(ctx context.Context, jobID string, rr *RecordReader, ex Extractor) (*dispatch.Group, error) {
	g, err := c.pool.NewGroup(jobID)
	if err != nil {
		return nil, fmt.Errorf("dispatch chunks: %w", err)
	}

	groupID := g.ID()
	if _, err := c.tracker.Merge(ctx, jobID, progress.Patch{GroupID: &groupID}); err != nil {
		return g, fmt.Errorf("record group id: %w", err)
	}

	var (
		index   int
		offset  int
		records = make([][]string, 0, c.opts.ChunkSize)
		numbers = make([]int, 0, c.opts.ChunkSize)
	)

	submit := func() error {
		ch := Chunk{
			JobID:     jobID,
			Index:     index,
			Offset:    offset,
			Records:   records,
			Numbers:   numbers,
			Extractor: ex,
		}
		if err := g.Submit(ctx, func(wctx context.Context) error {
			return c.runChunk(wctx, ch)
		}); err != nil {
			return fmt.Errorf("dispatch chunk %d: %w", index, err)
		}
		index++
		offset += len(records)
		records = make([][]string, 0, c.opts.ChunkSize)
		numbers = make([]int, 0, c.opts.ChunkSize)
		return nil
	}

	for rr.Next() {
		records = append(records, rr.Record())
		numbers = append(numbers, rr.Number())
		if len(records) == c.opts.ChunkSize {
			if err := submit(); err != nil {
				return g, err
			}
		}
	}
	if err := rr.Err(); err != nil {
		return g, fmt.Errorf("read file: %w", err)
	}
	if len(records) > 0 {
		if err := submit(); err != nil {
			return g, err
		}
	}
	g.Seal()

	total := index
	if _, err := c.tracker.Merge(ctx, jobID, progress.Patch{TotalChunks: &total}); err != nil {
		return g, fmt.Errorf("record chunk count: %w", err)
	}

	logging.WithFields(ctx, "job_id", jobID).Info("chunks dispatched", "chunks", total, "rows", offset)
	return g, nil
}

// runChunk reconciles ch with retries and records the outcome.
func (c *Coordinator) runChunk(ctx context.Context, ch Chunk) error {
	log := logging.WithFields(ctx, "job_id", ch.JobID, "chunk", ch.Index)

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.Backoff.Delay(attempt - 1)
			log.Warn("retrying chunk", "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		res, err := c.reconciler.ProcessChunk(ctx, ch)
		if err == nil {
			if res.Cancelled {
				log.Info("chunk skipped, job cancelled")
				return nil
			}
			if err := c.record(ctx, ch.JobID, res.Delta()); err != nil {
				log.Error("record chunk progress", "error", err)
				return fmt.Errorf("record chunk %d progress: %w", ch.Index, err)
			}
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	log.Error("chunk failed", "attempts", c.opts.MaxRetries+1, "error", lastErr)

	first, last := ch.Offset+1, ch.Offset+ch.Len()
	if ch.Len() > 0 {
		first, last = ch.Numbers[0], ch.Numbers[ch.Len()-1]
	}
	d := progress.Delta{
		Processed: ch.Len(),
		Failed:    ch.Len(),
		Chunks:    1,
		Errors: []string{fmt.Sprintf("Chunk %d (rows %d-%d) failed after %d attempts: %s",
			ch.Index, first, last, c.opts.MaxRetries+1, MapError(lastErr).Message)},
	}

	if err := c.record(ctx, ch.JobID, d); err != nil {
		log.Error("record chunk failure", "error", err)
	}
	return lastErr
}

// record adds a finished chunk's counts to the job. The chunk's writes are
// already committed, so failed attempts are retried on a context detached
// from the worker's, bounded by recordTimeout.
func (c *Coordinator) record(ctx context.Context, jobID string, d progress.Delta) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleep(rctx, time.Duration(attempt)*recordRetryDelay); serr != nil {
				break
			}
		}
		if _, err = c.tracker.Advance(rctx, jobID, d); err == nil {
			return nil
		}
		logging.WithFields(ctx, "job_id", jobID).Warn("record chunk progress failed", "attempt", attempt+1, "error", err)
	}
	return err
}

// release waits briefly for running chunks of an abandoned group and
// forgets it.
func (c *Coordinator) release(ctx context.Context, g *dispatch.Group) {
	select {
	case <-g.Done():
	case <-ctx.Done():
	}
	c.pool.Release(g.ID())
}

// Cancel revokes queued chunks of the job's group, if it is still known.
func (c *Coordinator) Cancel(groupID string) bool {
	if groupID == "" {
		return false
	}
	g, ok := c.pool.Group(groupID)
	if !ok {
		return false
	}
	g.Revoke()
	return true
}

// Ready reports whether the job's group has finished. Unknown groups are
// not ready.
func (c *Coordinator) Ready(groupID string) bool {
	if groupID == "" {
		return false
	}
	g, ok := c.pool.Group(groupID)
	return ok && g.Ready()
}
