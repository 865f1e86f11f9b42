// Package progress holds ingestion job records and the stores that persist
// them between the worker that writes progress and the client that polls it.
package progress

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned for unknown or expired jobs.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is the externally visible progress record of one ingestion.
type Job struct {
	ID              string     `json:"task_id"`
	Status          Status     `json:"status"`
	Progress        float64    `json:"progress"`
	TotalRows       int        `json:"total_rows"`
	ProcessedRows   int        `json:"processed_rows"`
	SuccessfulRows  int        `json:"successful_rows"`
	FailedRows      int        `json:"failed_rows"`
	SkippedRows     int        `json:"skipped_rows"`
	Errors          []string   `json:"errors"`
	Message         string     `json:"message"`
	FileName        string     `json:"file_name,omitempty"`
	Strategy        string     `json:"strategy,omitempty"`
	GroupID         string     `json:"group_id,omitempty"`
	TotalChunks     int        `json:"total_chunks"`
	CompletedChunks int        `json:"completed_chunks"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Recompute revises the total upward when processing overtook the estimate
// and derives the percentage. Stores call it after every write and read.
func (j *Job) Recompute() {
	if j.Errors == nil {
		j.Errors = []string{}
	}
	if j.ProcessedRows > j.TotalRows {
		j.TotalRows = j.ProcessedRows
	}
	if j.TotalRows <= 0 {
		j.Progress = 0
		return
	}
	pct := float64(j.ProcessedRows) / float64(j.TotalRows) * 100
	j.Progress = math.Min(100, math.Floor(pct*100)/100)
}

// Clone returns a copy that shares no slices or pointers with j.
func (j Job) Clone() Job {
	j.Errors = append([]string{}, j.Errors...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

// Patch is a field-level overlay. Nil fields are left unchanged.
type Patch struct {
	Status          *Status
	TotalRows       *int
	ProcessedRows   *int
	SuccessfulRows  *int
	FailedRows      *int
	SkippedRows     *int
	Errors          []string
	Message         *string
	GroupID         *string
	TotalChunks     *int
	CompletedChunks *int
	CompletedAt     *time.Time
}

// Apply overlays the set fields onto j and recomputes derived values.
func (p Patch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	setInt(&j.TotalRows, p.TotalRows)
	setInt(&j.ProcessedRows, p.ProcessedRows)
	setInt(&j.SuccessfulRows, p.SuccessfulRows)
	setInt(&j.FailedRows, p.FailedRows)
	setInt(&j.SkippedRows, p.SkippedRows)
	setInt(&j.TotalChunks, p.TotalChunks)
	setInt(&j.CompletedChunks, p.CompletedChunks)
	if p.Errors != nil {
		j.Errors = append([]string{}, p.Errors...)
	}
	if p.Message != nil {
		j.Message = *p.Message
	}
	if p.GroupID != nil {
		j.GroupID = *p.GroupID
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		j.CompletedAt = &t
	}
	j.Recompute()
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Delta is a set of counter increments reported by one unit of work.
type Delta struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Chunks    int
	Errors    []string
}

// Empty reports whether applying d would change nothing.
func (d Delta) Empty() bool {
	return d.Processed == 0 && d.Succeeded == 0 && d.Failed == 0 &&
		d.Skipped == 0 && d.Chunks == 0 && len(d.Errors) == 0
}

// Apply adds the increments to j, keeping at most tail errors (newest last).
func (d Delta) Apply(j *Job, tail int) {
	j.ProcessedRows += d.Processed
	j.SuccessfulRows += d.Succeeded
	j.FailedRows += d.Failed
	j.SkippedRows += d.Skipped
	j.CompletedChunks += d.Chunks
	j.Errors = Tail(append(j.Errors, d.Errors...), tail)
	j.Recompute()
}

// Tail returns the last n entries of errs.
func Tail(errs []string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	if len(errs) > n {
		errs = errs[len(errs)-n:]
	}
	return append([]string{}, errs...)
}

// Store persists jobs with a time-to-live refreshed on every write.
type Store interface {
	// Create inserts a new job.
	Create(ctx context.Context, job Job, ttl time.Duration) error

	// Get returns the job, or ErrNotFound when unknown or expired.
	Get(ctx context.Context, id string) (Job, error)

	// Update runs fn on the current job under the store's lock or row lock and
	// writes the result. An error from fn aborts without writing.
	Update(ctx context.Context, id string, ttl time.Duration, fn func(*Job) error) (Job, error)

	// Increment adds d to the counters in one atomic step.
	Increment(ctx context.Context, id string, ttl time.Duration, d Delta, tail int) (Job, error)

	// DeleteExpired removes jobs whose TTL elapsed before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	Ping(ctx context.Context) error
}
