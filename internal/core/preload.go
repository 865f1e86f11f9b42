package core

// preload.go implements the preload strategy for whole-file jobs on a
// single goroutine.
//
// Every existing record is loaded once into a map keyed by canonical key.
// Each row either updates the mapped record in place or creates a new one
// that is put into the same map, so a later row with the same key updates it
// instead of creating a duplicate. Writes are buffered and flushed in
// batches, one transaction per batch. When a batch fails it is replayed with
// one savepoint per record so that only the offending rows fail.

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/logging"
	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// errJobCancelled stops a preload run that observed a cancellation.
var errJobCancelled = errors.New("import cancelled")

// PreloadOptions tunes a PreloadImporter.
type PreloadOptions struct {
	BatchSize        int // rows buffered per flush
	ProgressInterval int // rows between progress writes
	RunningErrorTail int // errors kept while running
	FinalErrorTail   int // errors kept on completion
}

// PreloadImporter reconciles a whole file against a snapshot of the catalog.
type PreloadImporter struct {
	store    catalog.Store
	tracker  *Tracker
	notifier Notifier
	opts     PreloadOptions
}

// NewPreloadImporter creates an importer.
func NewPreloadImporter(store catalog.Store, tracker *Tracker, notifier Notifier, opts PreloadOptions) *PreloadImporter {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1000
	}
	if opts.ProgressInterval < 1 {
		opts.ProgressInterval = 100
	}
	if opts.RunningErrorTail < 1 {
		opts.RunningErrorTail = 10
	}
	if opts.FinalErrorTail < 1 {
		opts.FinalErrorTail = 20
	}
	return &PreloadImporter{store: store, tracker: tracker, notifier: notifier, opts: opts}
}

// preloadRun is the state of one Run call.
type preloadRun struct {
	*PreloadImporter
	jobID string

	known   map[string]*catalog.Record
	batch   []*pendingWrite
	inBatch map[*catalog.Record]*pendingWrite

	res  ChunkResult
	errs []string
}

// Run reconciles every row of rows and completes the job. A cancelled job
// stops at the next progress check; rows flushed before that stay written.
func (p *PreloadImporter) Run(ctx context.Context, jobID string, rows *RowStream) error {
	log := logging.WithFields(ctx, "job_id", jobID, "strategy", StrategyPreload)

	known, err := p.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load catalog snapshot: %w", err)
	}
	log.Info("catalog snapshot loaded", "records", len(known))

	r := &preloadRun{
		PreloadImporter: p,
		jobID:           jobID,
		known:           known,
		inBatch:         make(map[*catalog.Record]*pendingWrite),
	}

	err = r.consume(ctx, rows)
	if errors.Is(err, errJobCancelled) {
		log.Info("import cancelled", "processed", r.res.Processed)
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := p.tracker.Merge(ctx, jobID, r.patch(p.opts.FinalErrorTail)); err != nil {
		return fmt.Errorf("record final progress: %w", err)
	}
	job, err := p.tracker.Complete(ctx, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	log.Info("import finished",
		"status", job.Status,
		"processed", r.res.Processed,
		"succeeded", r.res.Succeeded,
		"failed", r.res.Failed,
		"skipped", r.res.Skipped,
	)
	return nil
}

func (r *preloadRun) consume(ctx context.Context, rows *RowStream) error {
	lastReported := 0
	for i := 0; rows.Next(); i++ {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		row := rows.Row()
		r.res.Skipped = rows.Skipped()
		r.res.Processed = rows.Records()

		if err := ValidateRow(row); err != nil {
			r.fail(row.Number, err)
		} else {
			r.stage(row)
		}

		if len(r.batch) >= r.opts.BatchSize {
			if err := r.flush(ctx); err != nil {
				return err
			}
		}
		if r.res.Processed-lastReported >= r.opts.ProgressInterval {
			lastReported = r.res.Processed
			if err := r.report(ctx); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.res.Skipped = rows.Skipped()
	r.res.Processed = rows.Records()
	return r.flush(ctx)
}

// stage applies row to the in-memory catalog and queues the write.
func (r *preloadRun) stage(row Row) {
	key := row.Key()
	rec, ok := r.known[key]
	if ok {
		rec.Apply(row.Name, row.SKU, row.Description)
	} else {
		rec = catalog.NewRecord(row.Name, row.SKU, row.Description)
		r.known[key] = rec
	}

	if w, ok := r.inBatch[rec]; ok {
		w.rows = append(w.rows, row.Number)
	} else {
		w := &pendingWrite{rec: rec, rows: []int{row.Number}}
		r.inBatch[rec] = w
		r.batch = append(r.batch, w)
	}
	r.res.Succeeded++
}

func (r *preloadRun) fail(number int, err error) {
	r.res.Failed++
	r.errs = append(r.errs, RowError(number, err))
}

// report checks for cancellation and merges the running totals.
func (r *preloadRun) report(ctx context.Context) error {
	cancelled, err := r.tracker.IsCancelled(ctx, r.jobID)
	if err != nil {
		return fmt.Errorf("check cancellation: %w", err)
	}
	if cancelled {
		return errJobCancelled
	}
	if _, err := r.tracker.Merge(ctx, r.jobID, r.patch(r.opts.RunningErrorTail)); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

func (r *preloadRun) patch(tail int) progress.Patch {
	return progress.Patch{
		ProcessedRows:  &r.res.Processed,
		SuccessfulRows: &r.res.Succeeded,
		FailedRows:     &r.res.Failed,
		SkippedRows:    &r.res.Skipped,
		Errors:         progress.Tail(r.errs, tail),
	}
}

// flush writes the buffered batch. The job is checked for cancellation first
// so nothing is written after a cancel was observed.
func (r *preloadRun) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.report(ctx); err != nil {
		return err
	}

	batch := r.batch
	r.batch = nil
	clear(r.inBatch)

	created, updated, err := r.writeBatch(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.WithFields(ctx, "job_id", r.jobID).Warn("batch write failed, retrying row by row",
			"records", len(batch), "error", err)

		created, updated, err = r.writeEach(ctx, batch)
		if err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
	}

	notifyChanges(ctx, r.notifier, created, updated)
	return r.report(ctx)
}

// writeBatch writes the whole batch in one transaction. Saved values are
// copied back into the in-memory records only after commit.
func (r *preloadRun) writeBatch(ctx context.Context, batch []*pendingWrite) (created, updated []catalog.Record, err error) {
	var creates []*pendingWrite
	for _, w := range batch {
		if !w.rec.Persisted() {
			creates = append(creates, w)
		}
	}

	err = r.store.WithTx(ctx, func(q catalog.Queries) error {
		created, updated = nil, nil
		if len(creates) > 0 {
			recs := make([]catalog.Record, len(creates))
			for i, w := range creates {
				recs[i] = *w.rec
			}
			saved, err := q.InsertBatch(ctx, recs)
			if err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
			created = saved
		}
		for _, w := range batch {
			if !w.rec.Persisted() {
				continue
			}
			saved, err := q.Update(ctx, *w.rec)
			if err != nil {
				return fmt.Errorf("update %q: %w", w.rec.Key, err)
			}
			updated = append(updated, saved)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for i, w := range creates {
		*w.rec = created[i]
	}
	r.copyUpdated(batch, updated)
	return created, updated, nil
}

// writeEach replays the batch with one savepoint per record. Records that
// fail are counted as failed rows and dropped from the in-memory catalog so
// a later row can try again.
func (r *preloadRun) writeEach(ctx context.Context, batch []*pendingWrite) (created, updated []catalog.Record, err error) {
	type outcome struct {
		w     *pendingWrite
		saved catalog.Record
		err   error
	}
	var results []outcome

	err = r.store.WithTx(ctx, func(q catalog.Queries) error {
		results = results[:0]
		for _, w := range batch {
			var saved catalog.Record
			err := q.Savepoint(ctx, func(sq catalog.Queries) error {
				if w.rec.Persisted() {
					var err error
					saved, err = sq.Update(ctx, *w.rec)
					return err
				}
				out, err := sq.InsertBatch(ctx, []catalog.Record{*w.rec})
				if err != nil {
					return err
				}
				saved = out[0]
				return nil
			})
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results = append(results, outcome{w: w, saved: saved, err: err})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, o := range results {
		if o.err != nil {
			r.res.Succeeded -= len(o.w.rows)
			for _, n := range o.w.rows {
				r.fail(n, o.err)
			}
			if !o.w.rec.Persisted() {
				delete(r.known, o.w.rec.Key)
			}
			continue
		}
		if o.w.rec.Persisted() {
			updated = append(updated, o.saved)
		} else {
			created = append(created, o.saved)
		}
		*o.w.rec = o.saved
	}
	return created, updated, nil
}

func (r *preloadRun) copyUpdated(batch []*pendingWrite, updated []catalog.Record) {
	byID := make(map[int64]catalog.Record, len(updated))
	for _, rec := range updated {
		byID[rec.ID] = rec
	}
	for _, w := range batch {
		if saved, ok := byID[w.rec.ID]; ok {
			*w.rec = saved
		}
	}
}
