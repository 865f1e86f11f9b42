package core

// tracker.go owns the lifecycle of a job's progress record:
//
//	pending -> processing -> completed | failed | cancelled
//
// Counters from concurrent chunk workers go through Advance, which the
// progress store applies as one atomic increment. Merge is a field-level
// overlay for fields that have a single writer (group id, chunk count, the
// preload importer's running totals). Once a job is terminal its status is
// never changed again.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// errUnchanged aborts a store update without writing.
var errUnchanged = errors.New("job unchanged")

// Tracker reads and writes job progress records.
type Tracker struct {
	store progress.Store
	ttl   time.Duration
	tail  int
	now   func() time.Time
}

// DefaultProgressTTL is used when a tracker is given no TTL.
const DefaultProgressTTL = time.Hour

// NewTracker creates a tracker. ttl is refreshed on every write and tail
// bounds the stored error list.
func NewTracker(store progress.Store, ttl time.Duration, tail int) *Tracker {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &Tracker{store: store, ttl: ttl, tail: tail, now: time.Now}
}

// Initialize creates the record for a new job with zero counters.
func (t *Tracker) Initialize(ctx context.Context, job progress.Job) (progress.Job, error) {
	if job.Status == "" {
		job.Status = progress.StatusPending
	}
	job.ProcessedRows, job.SuccessfulRows, job.FailedRows, job.SkippedRows = 0, 0, 0, 0
	job.CompletedChunks = 0
	job.Errors = []string{}
	job.CreatedAt = t.now().UTC()
	job.Recompute()

	if err := t.store.Create(ctx, job, t.ttl); err != nil {
		return progress.Job{}, fmt.Errorf("initialize job %s: %w", job.ID, err)
	}
	return job, nil
}

// Get returns the current record.
func (t *Tracker) Get(ctx context.Context, id string) (progress.Job, error) {
	return t.store.Get(ctx, id)
}

// Merge overlays the set fields of p. A status change on a terminal job is
// dropped; the other fields still apply.
func (t *Tracker) Merge(ctx context.Context, id string, p progress.Patch) (progress.Job, error) {
	return t.store.Update(ctx, id, t.ttl, func(j *progress.Job) error {
		if j.Status.Terminal() {
			p.Status = nil
			p.CompletedAt = nil
		}
		p.Apply(j)
		return nil
	})
}

// Advance adds one unit of work's counters atomically.
func (t *Tracker) Advance(ctx context.Context, id string, d progress.Delta) (progress.Job, error) {
	if d.Empty() {
		return t.store.Get(ctx, id)
	}
	return t.store.Increment(ctx, id, t.ttl, d, t.tail)
}

// IsCancelled reports whether the job was cancelled. A job that no longer
// exists reports true so orphaned work stops.
func (t *Tracker) IsCancelled(ctx context.Context, id string) (bool, error) {
	job, err := t.store.Get(ctx, id)
	if errors.Is(err, progress.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return job.Status == progress.StatusCancelled, nil
}

// Start moves a pending job to processing.
func (t *Tracker) Start(ctx context.Context, id string) (progress.Job, error) {
	return t.transition(ctx, id, func(j *progress.Job) {
		j.Status = progress.StatusProcessing
		j.Message = "Import in progress"
	})
}

// Complete promotes the job to completed unless it is already terminal. The
// total is set to the exact processed count.
func (t *Tracker) Complete(ctx context.Context, id string) (progress.Job, error) {
	return t.transition(ctx, id, func(j *progress.Job) {
		j.Status = progress.StatusCompleted
		j.TotalRows = j.ProcessedRows
		j.Message = fmt.Sprintf("Import completed: %d succeeded, %d failed, %d skipped",
			j.SuccessfulRows, j.FailedRows, j.SkippedRows)
		t.stamp(j)
	})
}

// Fail marks the job failed unless it is already terminal.
func (t *Tracker) Fail(ctx context.Context, id, message string) (progress.Job, error) {
	return t.transition(ctx, id, func(j *progress.Job) {
		j.Status = progress.StatusFailed
		j.Message = message
		t.stamp(j)
	})
}

// Cancel marks the job cancelled. Cancelling a terminal job returns
// ErrAlreadyTerminal together with the unchanged record.
func (t *Tracker) Cancel(ctx context.Context, id string) (progress.Job, error) {
	return t.store.Update(ctx, id, t.ttl, func(j *progress.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: job is %s", ErrAlreadyTerminal, j.Status)
		}
		j.Status = progress.StatusCancelled
		j.Message = "Import cancelled"
		t.stamp(j)
		return nil
	})
}

// Sweep deletes expired records.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	return t.store.DeleteExpired(ctx, t.now())
}

// Ping checks the progress store.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// transition applies fn unless the job is terminal, in which case the
// current record is returned unchanged.
func (t *Tracker) transition(ctx context.Context, id string, fn func(*progress.Job)) (progress.Job, error) {
	job, err := t.store.Update(ctx, id, t.ttl, func(j *progress.Job) error {
		if j.Status.Terminal() {
			return errUnchanged
		}
		fn(j)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return job, nil
	}
	return job, err
}

func (t *Tracker) stamp(j *progress.Job) {
	now := t.now().UTC()
	j.CompletedAt = &now
}
