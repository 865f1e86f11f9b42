package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/catalog/sqlitestore"
	"github.com/JonMunkholm/catalog-import/internal/events"
)

func TestProcessChunk_CreatesUpdatesAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, catalog.NewRecord("Widget", "W-1", "old"))
	jobID := f.startJob(t, "job-1", StrategyChunked)

	ch := chunkOf(t, jobID, "name,sku,description\n"+
		"Widget v2,w-1,new\n"+
		"Gadget,G-2,\n"+
		",X-3,no name\n"+
		",,\n")

	r := NewChunkReconciler(f.store, f.tracker, f.events, 5)
	res, err := r.ProcessChunk(ctx, ch)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	if res.Processed != 4 || res.Succeeded != 2 || res.Failed != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 4 processed, 2 succeeded, 1 failed, 1 skipped", res)
	}
	if !containsError(res.Errors, "Row 4: Name is required") {
		t.Errorf("errors = %q, want the row 4 failure", res.Errors)
	}

	all := f.products(t)
	if len(all) != 2 {
		t.Fatalf("catalog has %d records, want 2", len(all))
	}
	w := all["w-1"]
	if w.Name != "Widget v2" || w.SKU != "w-1" || w.Description != "new" || !w.Active {
		t.Errorf("w-1 = %+v", w)
	}
	if _, ok := all["g-2"]; !ok {
		t.Error("g-2 not created")
	}

	if got := f.events.Count(events.ProductCreated); got != 1 {
		t.Errorf("created events = %d, want 1", got)
	}
	if got := f.events.Count(events.ProductUpdated); got != 1 {
		t.Errorf("updated events = %d, want 1", got)
	}
}

func TestProcessChunk_RejectedInsertFailsOnlyThatRow(t *testing.T) {
	f := newFixture(t)
	f.rejectKey(t, "bad")
	jobID := f.startJob(t, "job-1", StrategyChunked)

	ch := chunkOf(t, jobID, "name,sku\nA,A-1\nB,bad\nC,C-1\n")
	res, err := NewChunkReconciler(f.store, f.tracker, f.events, 5).ProcessChunk(context.Background(), ch)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	if res.Processed != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 3 processed, 2 succeeded, 1 failed", res)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Row 3: ") {
		t.Errorf("errors = %q, want one error for row 3", res.Errors)
	}

	all := f.products(t)
	if len(all) != 2 {
		t.Fatalf("catalog has %d records, want 2", len(all))
	}
	for _, key := range []string{"a-1", "c-1"} {
		if _, ok := all[key]; !ok {
			t.Errorf("%s not created", key)
		}
	}
	if got := f.events.Count(events.ProductCreated); got != 2 {
		t.Errorf("created events = %d, want 2", got)
	}
}

func TestProcessChunk_SameKeyInOneChunkCreatesOnce(t *testing.T) {
	f := newFixture(t)
	jobID := f.startJob(t, "job-1", StrategyChunked)

	ch := chunkOf(t, jobID, "name,sku\nFirst,W-1\nSecond,w-1\n")
	res, err := NewChunkReconciler(f.store, f.tracker, f.events, 5).ProcessChunk(context.Background(), ch)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if res.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", res.Succeeded)
	}

	all := f.products(t)
	if len(all) != 1 {
		t.Fatalf("catalog has %d records, want 1", len(all))
	}
	if rec := all["w-1"]; rec.Name != "Second" || rec.SKU != "w-1" {
		t.Errorf("record = %+v, want last row's name and casing", rec)
	}
	if got := f.events.Count(events.ProductCreated); got != 1 {
		t.Errorf("created events = %d, want 1", got)
	}
}

func TestProcessChunk_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.startJob(t, "job-1", StrategyChunked)
	r := NewChunkReconciler(f.store, f.tracker, f.events, 5)

	data := "name,sku,description\nWidget,W-1,a\nGadget,G-2,b\n"
	for i := 0; i < 2; i++ {
		if _, err := r.ProcessChunk(ctx, chunkOf(t, jobID, data)); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}

	all := f.products(t)
	if len(all) != 2 {
		t.Fatalf("catalog has %d records after two passes, want 2", len(all))
	}
	if all["w-1"].Description != "a" || all["g-2"].Description != "b" {
		t.Errorf("catalog changed on re-import: %+v %+v", all["w-1"], all["g-2"])
	}
	if got := f.events.Count(events.ProductUpdated); got != 2 {
		t.Errorf("updated events = %d, want 2 from the second pass", got)
	}
}

func TestProcessChunk_CancelledJobWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.startJob(t, "job-1", StrategyChunked)
	if _, err := f.tracker.Cancel(ctx, jobID); err != nil {
		t.Fatal(err)
	}

	res, err := NewChunkReconciler(f.store, f.tracker, f.events, 5).
		ProcessChunk(ctx, chunkOf(t, jobID, "name,sku\nWidget,W-1\n"))
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if !res.Cancelled {
		t.Error("result not marked cancelled")
	}
	if n := len(f.products(t)); n != 0 {
		t.Errorf("catalog has %d records, want 0", n)
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("%d events emitted for a cancelled chunk", n)
	}
}

func TestProcessChunk_BlankSKUFailsWithRowNumber(t *testing.T) {
	f := newFixture(t)
	jobID := f.startJob(t, "job-1", StrategyChunked)

	res, err := NewChunkReconciler(f.store, f.tracker, f.events, 5).
		ProcessChunk(context.Background(), chunkOf(t, jobID, "name,sku\nGood,G-1\nWidget,  \n"))
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if res.Failed != 1 || res.Succeeded != 1 {
		t.Errorf("result = %+v, want 1 succeeded and 1 failed", res)
	}
	if !containsError(res.Errors, "Row 3: SKU is required") {
		t.Errorf("errors = %q", res.Errors)
	}
}

func TestProcessChunk_ErrorTailIsBounded(t *testing.T) {
	f := newFixture(t)
	jobID := f.startJob(t, "job-1", StrategyChunked)

	data := "name,sku\n"
	for i := 0; i < 8; i++ {
		data += "Nameless,\n"
	}
	res, err := NewChunkReconciler(f.store, f.tracker, f.events, 5).
		ProcessChunk(context.Background(), chunkOf(t, jobID, data))
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if res.Failed != 8 {
		t.Errorf("Failed = %d, want 8", res.Failed)
	}
	if len(res.Errors) != 5 {
		t.Fatalf("len(Errors) = %d, want 5", len(res.Errors))
	}
	if res.Errors[4] != "Row 9: SKU is required" {
		t.Errorf("last error = %q, want the newest", res.Errors[4])
	}
}

// racingStore inserts a competing record right after the first lookup that
// misses, as a concurrent chunk would.
type racingStore struct {
	*sqlitestore.Store
	once   sync.Once
	winner catalog.Record
}

func (s *racingStore) FindByKey(ctx context.Context, key string) (catalog.Record, error) {
	rec, err := s.Store.FindByKey(ctx, key)
	if errors.Is(err, catalog.ErrNotFound) {
		s.once.Do(func() {
			_, _ = s.Store.InsertBatch(ctx, []catalog.Record{s.winner})
		})
	}
	return rec, err
}

func TestProcessChunk_LostInsertRaceIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.startJob(t, "job-1", StrategyChunked)

	store := &racingStore{Store: f.store, winner: *catalog.NewRecord("Other import", "W-1", "")}
	r := NewChunkReconciler(store, f.tracker, f.events, 5)
	ch := chunkOf(t, jobID, "name,sku\nWidget,w-1\nGadget,G-2\n")

	_, err := r.ProcessChunk(ctx, ch)
	if !errors.Is(err, ErrChunkConflict) {
		t.Fatalf("first attempt error = %v, want ErrChunkConflict", err)
	}
	all := f.products(t)
	if len(all) != 1 {
		t.Fatalf("catalog has %d records after rollback, want only the winner", len(all))
	}

	res, err := r.ProcessChunk(ctx, ch)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Succeeded != 2 {
		t.Errorf("retry Succeeded = %d, want 2", res.Succeeded)
	}
	all = f.products(t)
	if len(all) != 2 {
		t.Fatalf("catalog has %d records, want 2", len(all))
	}
	if all["w-1"].Name != "Widget" {
		t.Errorf("w-1 name = %q, want the retried row to update the winner", all["w-1"].Name)
	}
}

func TestTailOf(t *testing.T) {
	tests := []struct {
		name string
		errs []string
		n    int
		want int
	}{
		{"nil", nil, 5, 0},
		{"under limit", []string{"a", "b"}, 5, 2},
		{"over limit", []string{"a", "b", "c"}, 2, 2},
		{"unbounded", []string{"a", "b", "c"}, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tailOf(tt.errs, tt.n); len(got) != tt.want {
				t.Errorf("tailOf() = %v, want %d entries", got, tt.want)
			}
		})
	}
}
