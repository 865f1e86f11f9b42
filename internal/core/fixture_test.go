package core

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/catalog/sqlitestore"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/progress"
	"github.com/JonMunkholm/catalog-import/internal/testutil/sqlitetest"
)

// fixture is a catalog on a throwaway SQLite database plus in-memory job
// records and recorded events.
type fixture struct {
	db      *sql.DB
	store   *sqlitestore.Store
	jobs    *progress.MemoryStore
	tracker *Tracker
	events  *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobs := progress.NewMemoryStore()
	db := sqlitetest.Open(t)
	return &fixture{
		db:      db,
		store:   sqlitestore.New(db),
		jobs:    jobs,
		tracker: NewTracker(jobs, time.Hour, 20),
		events:  &events.Recorder{},
	}
}

// startJob creates a processing job and returns its id.
func (f *fixture) startJob(t *testing.T, id, strategy string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := f.tracker.Initialize(ctx, progress.Job{ID: id, Strategy: strategy}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.tracker.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return id
}

func (f *fixture) job(t *testing.T, id string) progress.Job {
	t.Helper()
	job, err := f.tracker.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return job
}

// products returns the catalog keyed by canonical key.
func (f *fixture) products(t *testing.T) map[string]*catalog.Record {
	t.Helper()
	all, err := f.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return all
}

// seed inserts records directly.
func (f *fixture) seed(t *testing.T, recs ...*catalog.Record) {
	t.Helper()
	in := make([]catalog.Record, len(recs))
	for i, r := range recs {
		in[i] = *r
	}
	if _, err := f.store.InsertBatch(context.Background(), in); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// openCSV reads the header of data and maps it with the default aliases.
func openCSV(t *testing.T, data string) (*RecordReader, Extractor) {
	t.Helper()
	rr, err := NewRecordReader(strings.NewReader(data), ParseOptions{})
	if err != nil {
		t.Fatalf("NewRecordReader: %v", err)
	}
	return rr, rr.Extractor(MapColumns(rr.Header(), DefaultAliases()))
}

// chunkOf reads every record of data into a single chunk.
func chunkOf(t *testing.T, jobID, data string) Chunk {
	t.Helper()
	rr, ex := openCSV(t, data)
	ch := Chunk{JobID: jobID, Extractor: ex}
	for rr.Next() {
		ch.Records = append(ch.Records, rr.Record())
		ch.Numbers = append(ch.Numbers, rr.Number())
	}
	if err := rr.Err(); err != nil {
		t.Fatalf("read records: %v", err)
	}
	return ch
}

// rejectKey makes the database refuse inserts of key, the way a server-side
// constraint would.
func (f *fixture) rejectKey(t *testing.T, key string) {
	t.Helper()
	_, err := f.db.Exec(`CREATE TRIGGER reject_key BEFORE INSERT ON products
		WHEN NEW.sku_key = '` + key + `'
		BEGIN SELECT RAISE(ABORT, 'value rejected by database'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func containsError(errs []string, want string) bool {
	for _, e := range errs {
		if strings.Contains(e, want) {
			return true
		}
	}
	return false
}
