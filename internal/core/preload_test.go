package core

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/progress"
)

func runPreload(t *testing.T, f *fixture, jobID, data string, opts PreloadOptions) {
	t.Helper()
	rr, ex := openCSV(t, data)
	p := NewPreloadImporter(f.store, f.tracker, f.events, opts)
	if err := p.Run(context.Background(), jobID, NewRowStream(rr, ex)); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPreload_CaseInsensitiveKeyLastRowWins(t *testing.T) {
	f := newFixture(t)
	jobID := f.startJob(t, "job-1", StrategyPreload)

	runPreload(t, f, jobID, "name,sku\nA,W-1\nB,w-1\n", PreloadOptions{})

	all := f.products(t)
	if len(all) != 1 {
		t.Fatalf("catalog has %d records, want 1", len(all))
	}
	if rec := all["w-1"]; rec.Name != "B" || rec.SKU != "w-1" {
		t.Errorf("record = %+v, want name B and sku w-1", rec)
	}

	job := f.job(t, jobID)
	if job.Status != progress.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.SuccessfulRows != 2 || job.FailedRows != 0 {
		t.Errorf("counters = %d succeeded %d failed, want 2 and 0", job.SuccessfulRows, job.FailedRows)
	}
	if got := f.events.Count(events.ProductCreated); got != 1 {
		t.Errorf("created events = %d, want 1", got)
	}
}

func TestPreload_UpdatesExistingAcrossBatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, catalog.NewRecord("Old", "K-0", ""))
	jobID := f.startJob(t, "job-1", StrategyPreload)

	var sb strings.Builder
	sb.WriteString("Product Title,Product Code,Notes\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, "Item %d,K-%d,note %d\n", i, i, i)
	}
	// Same key again after several flushes.
	sb.WriteString("Item zero again,k-0,again\n")

	runPreload(t, f, jobID, sb.String(), PreloadOptions{BatchSize: 4, ProgressInterval: 3})

	all := f.products(t)
	if len(all) != 25 {
		t.Fatalf("catalog has %d records, want 25", len(all))
	}
	if rec := all["k-0"]; rec.Name != "Item zero again" || rec.Description != "again" {
		t.Errorf("k-0 = %+v", rec)
	}

	job := f.job(t, jobID)
	if job.ProcessedRows != 26 || job.SuccessfulRows != 26 {
		t.Errorf("processed = %d succeeded = %d, want 26 and 26", job.ProcessedRows, job.SuccessfulRows)
	}
	if job.TotalRows != 26 || job.Progress != 100 {
		t.Errorf("total = %d progress = %v", job.TotalRows, job.Progress)
	}
	if got := f.events.Count(events.ProductCreated); got != 24 {
		t.Errorf("created events = %d, want 24", got)
	}
}

func TestPreload_CountsFailuresAndSkips(t *testing.T) {
	f := newFixture(t)
	jobID := f.startJob(t, "job-1", StrategyPreload)

	long := strings.Repeat("n", catalog.MaxFieldLength+1)
	runPreload(t, f, jobID, "name,sku,description\n"+
		"Widget,W-1,\n"+
		"Widget,,\n"+
		",,\n"+
		long+",L-1,\n", PreloadOptions{})

	job := f.job(t, jobID)
	if job.ProcessedRows != 4 || job.SuccessfulRows != 1 || job.FailedRows != 2 || job.SkippedRows != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 4/1/2/1",
			job.ProcessedRows, job.SuccessfulRows, job.FailedRows, job.SkippedRows)
	}
	if !containsError(job.Errors, "Row 3: SKU is required") {
		t.Errorf("errors = %q", job.Errors)
	}
	if !containsError(job.Errors, "Row 5: Name exceeds 255 characters") {
		t.Errorf("errors = %q", job.Errors)
	}
	if len(f.products(t)) != 1 {
		t.Errorf("catalog has %d records, want 1", len(f.products(t)))
	}
}

func TestPreload_HeaderWithoutKeySkipsEverything(t *testing.T) {
	f := newFixture(t)
	jobID := f.startJob(t, "job-1", StrategyPreload)

	runPreload(t, f, jobID, "colour,weight\nred,1\nblue,2\n", PreloadOptions{})

	job := f.job(t, jobID)
	if job.SkippedRows != 2 || job.SuccessfulRows != 0 {
		t.Errorf("skipped = %d succeeded = %d, want 2 and 0", job.SkippedRows, job.SuccessfulRows)
	}
	if job.Status != progress.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if len(f.products(t)) != 0 {
		t.Error("records written for an unmapped file")
	}
}

func TestPreload_CancelledJobStopsAndStaysCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.startJob(t, "job-1", StrategyPreload)
	if _, err := f.tracker.Cancel(ctx, jobID); err != nil {
		t.Fatal(err)
	}

	runPreload(t, f, jobID, "name,sku\nA,A-1\nB,B-1\n", PreloadOptions{})

	if n := len(f.products(t)); n != 0 {
		t.Errorf("catalog has %d records, want 0 after cancel", n)
	}
	if job := f.job(t, jobID); job.Status != progress.StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

// failingUpdates rejects updates of one key, as a constraint or trigger would.
type failingUpdates struct {
	catalog.Queries
	key string
}

func (q failingUpdates) Update(ctx context.Context, rec catalog.Record) (catalog.Record, error) {
	if rec.Key == q.key {
		return catalog.Record{}, fmt.Errorf("update product: check constraint failed")
	}
	return q.Queries.Update(ctx, rec)
}

func (q failingUpdates) Savepoint(ctx context.Context, fn func(catalog.Queries) error) error {
	return q.Queries.Savepoint(ctx, func(inner catalog.Queries) error {
		return fn(failingUpdates{Queries: inner, key: q.key})
	})
}

type failingStore struct {
	catalog.Store
	key string
}

func (s failingStore) WithTx(ctx context.Context, fn func(catalog.Queries) error) error {
	return s.Store.WithTx(ctx, func(q catalog.Queries) error {
		return fn(failingUpdates{Queries: q, key: s.key})
	})
}

func TestPreload_BatchFailureFallsBackToSavepoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, catalog.NewRecord("Bad", "BAD-1", ""), catalog.NewRecord("Good", "OK-1", ""))
	jobID := f.startJob(t, "job-1", StrategyPreload)

	rr, ex := openCSV(t, "name,sku\nBad v2,BAD-1\nGood v2,OK-1\nNew,N-1\n")
	p := NewPreloadImporter(failingStore{Store: f.store, key: "bad-1"}, f.tracker, f.events, PreloadOptions{})
	if err := p.Run(context.Background(), jobID, NewRowStream(rr, ex)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all := f.products(t)
	if all["bad-1"].Name != "Bad" {
		t.Errorf("bad-1 name = %q, want unchanged", all["bad-1"].Name)
	}
	if all["ok-1"].Name != "Good v2" {
		t.Errorf("ok-1 name = %q, want updated", all["ok-1"].Name)
	}
	if _, ok := all["n-1"]; !ok {
		t.Error("n-1 not created")
	}

	job := f.job(t, jobID)
	if job.SuccessfulRows != 2 || job.FailedRows != 1 {
		t.Errorf("succeeded = %d failed = %d, want 2 and 1", job.SuccessfulRows, job.FailedRows)
	}
	if !containsError(job.Errors, "Row 2:") {
		t.Errorf("errors = %q, want the failed row", job.Errors)
	}
}
