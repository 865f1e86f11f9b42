package core

// reconcile.go implements the independent-chunk strategy.
//
// A chunk has no shared in-memory view of the catalog. Every row is looked up
// by canonical key directly in the store, new records are collected in a
// per-chunk map (last row wins) and written with one bulk insert, and matches
// are updated one by one, all inside a single transaction per chunk. A row
// the store rejects fails on its own: the bulk insert falls back to one
// savepoint per record and every update has its own savepoint.
//
// Two chunks may both decide a key is new. The unique index on the key
// rejects the loser's insert, the whole chunk rolls back and the error is
// reported as retryable: on the next attempt the lookup finds the winner's
// record and the row becomes an update.

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/logging"
)

// ErrChunkConflict marks a chunk whose bulk insert lost a race on a key.
var ErrChunkConflict = errors.New("chunk insert conflicted with a concurrent import")

// ChunkReconciler reconciles one chunk at a time. It is safe for concurrent use.
type ChunkReconciler struct {
	store     catalog.Store
	tracker   *Tracker
	notifier  Notifier
	errorTail int
}

// NewChunkReconciler creates a reconciler. errorTail bounds the errors a
// single chunk reports.
func NewChunkReconciler(store catalog.Store, tracker *Tracker, notifier Notifier, errorTail int) *ChunkReconciler {
	return &ChunkReconciler{
		store:     store,
		tracker:   tracker,
		notifier:  notifier,
		errorTail: errorTail,
	}
}

// pendingWrite is one record the chunk will write plus the rows that
// contributed to it.
type pendingWrite struct {
	rec  *catalog.Record
	rows []int
}

// ProcessChunk reconciles ch. A returned error means nothing was written and
// the chunk may be retried. A result with Cancelled set means the job was
// cancelled before anything was written.
func (c *ChunkReconciler) ProcessChunk(ctx context.Context, ch Chunk) (ChunkResult, error) {
	log := logging.WithFields(ctx, "job_id", ch.JobID, "chunk", ch.Index)

	if cancelled, err := c.tracker.IsCancelled(ctx, ch.JobID); err != nil {
		return ChunkResult{}, fmt.Errorf("check cancellation: %w", err)
	} else if cancelled {
		return ChunkResult{Cancelled: true}, nil
	}

	var (
		res     ChunkResult
		errs    []string
		creates []*pendingWrite
		updates []*pendingWrite
		seen    = make(map[string]*pendingWrite)
	)

	for i, raw := range ch.Records {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return ChunkResult{}, ctx.Err()
		}
		res.Processed++

		row, ok := ch.Extractor.Extract(raw, ch.Numbers[i])
		if !ok {
			res.Skipped++
			continue
		}
		if err := ValidateRow(row); err != nil {
			res.Failed++
			errs = append(errs, RowError(row.Number, err))
			continue
		}

		key := row.Key()
		if w, ok := seen[key]; ok {
			w.rec.Apply(row.Name, row.SKU, row.Description)
			w.rows = append(w.rows, row.Number)
			continue
		}

		existing, err := c.store.FindByKey(ctx, key)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			w := &pendingWrite{rec: catalog.NewRecord(row.Name, row.SKU, row.Description), rows: []int{row.Number}}
			seen[key] = w
			creates = append(creates, w)
		case err != nil:
			return ChunkResult{}, fmt.Errorf("look up %q: %w", key, err)
		default:
			existing.Apply(row.Name, row.SKU, row.Description)
			w := &pendingWrite{rec: &existing, rows: []int{row.Number}}
			seen[key] = w
			updates = append(updates, w)
		}
	}

	if len(creates) == 0 && len(updates) == 0 {
		res.Errors = tailOf(errs, c.errorTail)
		return res, nil
	}

	// Lookups take time; check again before the first write.
	if cancelled, err := c.tracker.IsCancelled(ctx, ch.JobID); err != nil {
		return ChunkResult{}, fmt.Errorf("check cancellation: %w", err)
	} else if cancelled {
		return ChunkResult{Cancelled: true}, nil
	}

	var created, updated []catalog.Record
	rowFailures := 0
	var rowErrs []string

	err := c.store.WithTx(ctx, func(q catalog.Queries) error {
		created, updated, rowFailures, rowErrs = nil, nil, 0, nil

		if len(creates) > 0 {
			saved, failed, errs, err := c.insertCreates(ctx, q, creates)
			if err != nil {
				return err
			}
			created = saved
			rowFailures += failed
			rowErrs = append(rowErrs, errs...)
		}

		for _, w := range updates {
			var saved catalog.Record
			err := q.Savepoint(ctx, func(sq catalog.Queries) error {
				var err error
				saved, err = sq.Update(ctx, *w.rec)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rowFailures += len(w.rows)
				for _, n := range w.rows {
					rowErrs = append(rowErrs, RowError(n, err))
				}
				continue
			}
			updated = append(updated, saved)
		}
		return nil
	})
	if err != nil {
		return ChunkResult{}, err
	}

	res.Failed += rowFailures
	res.Succeeded = res.Processed - res.Skipped - res.Failed
	res.Errors = tailOf(append(errs, rowErrs...), c.errorTail)

	log.Debug("chunk reconciled",
		"created", len(created),
		"updated", len(updated),
		"failed", res.Failed,
		"skipped", res.Skipped,
	)

	notifyChanges(ctx, c.notifier, created, updated)
	return res, nil
}

// insertCreates bulk-inserts the chunk's new records under a savepoint. When
// the bulk insert fails for a reason other than a key conflict, each record is
// retried under its own savepoint so only the offending rows fail.
func (c *ChunkReconciler) insertCreates(ctx context.Context, q catalog.Queries, creates []*pendingWrite) (saved []catalog.Record, failed int, errs []string, err error) {
	recs := make([]catalog.Record, len(creates))
	for i, w := range creates {
		recs[i] = *w.rec
	}

	batchErr := q.Savepoint(ctx, func(sq catalog.Queries) error {
		var err error
		saved, err = sq.InsertBatch(ctx, recs)
		return err
	})
	switch {
	case batchErr == nil:
		return saved, 0, nil, nil
	case errors.Is(batchErr, catalog.ErrDuplicateKey):
		return nil, 0, nil, fmt.Errorf("%w: %w", ErrChunkConflict, batchErr)
	case ctx.Err() != nil:
		return nil, 0, nil, ctx.Err()
	}

	logging.FromContext(ctx).Warn("bulk insert failed, inserting row by row",
		"records", len(recs), "error", batchErr)

	saved = nil
	for i, w := range creates {
		var one []catalog.Record
		err := q.Savepoint(ctx, func(sq catalog.Queries) error {
			var err error
			one, err = sq.InsertBatch(ctx, recs[i:i+1])
			return err
		})
		switch {
		case err == nil:
			saved = append(saved, one...)
		case errors.Is(err, catalog.ErrDuplicateKey):
			return nil, 0, nil, fmt.Errorf("%w: %w", ErrChunkConflict, err)
		case ctx.Err() != nil:
			return nil, 0, nil, ctx.Err()
		default:
			failed += len(w.rows)
			for _, n := range w.rows {
				errs = append(errs, RowError(n, err))
			}
		}
	}
	return saved, failed, errs, nil
}

// notifyChanges emits one event per written record.
func notifyChanges(ctx context.Context, n Notifier, created, updated []catalog.Record) {
	if n == nil || len(created)+len(updated) == 0 {
		return
	}
	evts := make([]events.Event, 0, len(created)+len(updated))
	for _, r := range created {
		evts = append(evts, events.NewEvent(events.ProductCreated, r))
	}
	for _, r := range updated {
		evts = append(evts, events.NewEvent(events.ProductUpdated, r))
	}
	n.Notify(ctx, evts...)
}

// tailOf returns the last n errors, or nil when there are none.
func tailOf(errs []string, n int) []string {
	if len(errs) == 0 {
		return nil
	}
	if n > 0 && len(errs) > n {
		errs = errs[len(errs)-n:]
	}
	return append([]string(nil), errs...)
}
