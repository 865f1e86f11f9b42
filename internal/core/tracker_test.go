package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
)

func newTestTracker() *Tracker {
	return NewTracker(progress.NewMemoryStore(), time.Hour, 5)
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	job, err := tr.Initialize(ctx, progress.Job{ID: "job-1", TotalRows: 4, ProcessedRows: 99})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if job.Status != progress.StatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.ProcessedRows != 0 {
		t.Errorf("ProcessedRows = %d, want counters zeroed", job.ProcessedRows)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	job, err = tr.Start(ctx, "job-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != progress.StatusProcessing {
		t.Errorf("status = %s, want processing", job.Status)
	}

	if _, err := tr.Advance(ctx, "job-1", progress.Delta{Processed: 3, Succeeded: 2, Failed: 1, Chunks: 1}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	job, err = tr.Complete(ctx, "job-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if job.Status != progress.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.TotalRows != 3 || job.Progress != 100 {
		t.Errorf("total = %d progress = %v, want 3 and 100", job.TotalRows, job.Progress)
	}
	if job.Message != "Import completed: 2 succeeded, 1 failed, 0 skipped" {
		t.Errorf("message = %q", job.Message)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Terminal jobs never change status again.
	job, err = tr.Fail(ctx, "job-1", "late failure")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if job.Status != progress.StatusCompleted {
		t.Errorf("status after Fail = %s, want completed", job.Status)
	}
}

func TestTracker_Cancel(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	if _, err := tr.Initialize(ctx, progress.Job{ID: "job-1"}); err != nil {
		t.Fatal(err)
	}

	job, err := tr.Cancel(ctx, "job-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != progress.StatusCancelled || job.Message != "Import cancelled" {
		t.Errorf("job = %s %q", job.Status, job.Message)
	}

	cancelled, err := tr.IsCancelled(ctx, "job-1")
	if err != nil || !cancelled {
		t.Errorf("IsCancelled = %v, %v; want true", cancelled, err)
	}

	job, err = tr.Cancel(ctx, "job-1")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second Cancel error = %v, want ErrAlreadyTerminal", err)
	}
	if job.Status != progress.StatusCancelled {
		t.Errorf("second Cancel returned status %s", job.Status)
	}

	// Completion never overrides a cancellation.
	job, err = tr.Complete(ctx, "job-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if job.Status != progress.StatusCancelled {
		t.Errorf("status after Complete = %s, want cancelled", job.Status)
	}

	if _, err := tr.Cancel(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestTracker_IsCancelledUnknownJob(t *testing.T) {
	cancelled, err := newTestTracker().IsCancelled(context.Background(), "gone")
	if err != nil {
		t.Fatalf("IsCancelled: %v", err)
	}
	if !cancelled {
		t.Error("unknown job should report cancelled so orphaned work stops")
	}
}

func TestTracker_MergeKeepsTerminalStatus(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	if _, err := tr.Initialize(ctx, progress.Job{ID: "job-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Cancel(ctx, "job-1"); err != nil {
		t.Fatal(err)
	}

	processing := progress.StatusProcessing
	chunks := 7
	job, err := tr.Merge(ctx, "job-1", progress.Patch{Status: &processing, TotalChunks: &chunks})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if job.Status != progress.StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
	if job.TotalChunks != 7 {
		t.Errorf("TotalChunks = %d, want 7", job.TotalChunks)
	}
}

func TestTracker_ConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	if _, err := tr.Initialize(ctx, progress.Job{ID: "job-1", TotalRows: 500}); err != nil {
		t.Fatal(err)
	}

	const workers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []float64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := tr.Advance(ctx, "job-1", progress.Delta{
				Processed: 10, Succeeded: 9, Failed: 1, Chunks: 1,
				Errors: []string{"Row 2: SKU is required"},
			})
			if err != nil {
				t.Errorf("Advance: %v", err)
				return
			}
			mu.Lock()
			seen = append(seen, job.Progress)
			mu.Unlock()
		}()
	}
	wg.Wait()

	job, err := tr.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.ProcessedRows != 500 || job.SuccessfulRows != 450 || job.FailedRows != 50 {
		t.Errorf("counters = %d/%d/%d, want 500/450/50", job.ProcessedRows, job.SuccessfulRows, job.FailedRows)
	}
	if job.CompletedChunks != workers {
		t.Errorf("CompletedChunks = %d, want %d", job.CompletedChunks, workers)
	}
	if len(job.Errors) != 5 {
		t.Errorf("len(Errors) = %d, want tail of 5", len(job.Errors))
	}
	for _, p := range seen {
		if p < 0 || p > 100 {
			t.Errorf("progress %v out of range", p)
		}
	}
	if job.Progress != 100 {
		t.Errorf("final progress = %v, want 100", job.Progress)
	}
}

func TestTracker_AdvanceEmptyDelta(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	if _, err := tr.Initialize(ctx, progress.Job{ID: "job-1"}); err != nil {
		t.Fatal(err)
	}
	job, err := tr.Advance(ctx, "job-1", progress.Delta{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if job.ID != "job-1" || job.ProcessedRows != 0 {
		t.Errorf("job = %+v", job)
	}
}

func TestTracker_Sweep(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(progress.NewMemoryStore(), time.Minute, 5)
	if _, err := tr.Initialize(ctx, progress.Job{ID: "job-1"}); err != nil {
		t.Fatal(err)
	}

	n, err := tr.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Sweep now = %d, %v; want nothing expired", n, err)
	}

	tr.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep deleted %d, want 1", n)
	}
}
