package core

import (
	"context"
	"errors"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// Reconciliation strategies.
const (
	// StrategyChunked splits the file into chunks reconciled independently by
	// the dispatch pool.
	StrategyChunked = "chunked"
	// StrategyPreload loads every existing key once and reconciles the whole
	// file on a single goroutine.
	StrategyPreload = "preload"
)

// ContextCheckInterval is how often (in rows) long loops check for
// context cancellation.
var ContextCheckInterval = 100

// Input errors. Their messages are matched by MapError.
var (
	ErrNoFile          = errors.New("no file provided")
	ErrEmptyFile       = errors.New("empty file")
	ErrUnsupportedFile = errors.New("unsupported file type: only .csv files are accepted")
	ErrFileTooLarge    = errors.New("file too large")
	ErrMissingHeader   = errors.New("missing header row")
	ErrUnknownStrategy = errors.New("unknown import strategy")
)

// Job errors.
var (
	// ErrJobNotFound is returned for unknown or expired jobs.
	ErrJobNotFound = progress.ErrNotFound

	// ErrAlreadyTerminal is returned when cancelling a finished job.
	ErrAlreadyTerminal = errors.New("job already finished")
)

// Row is one extracted data row. Number is the row's position in the file
// counting the header as row 1.
type Row struct {
	Number      int
	Name        string
	SKU         string
	Description string
}

// Key returns the canonical key of the row's SKU.
func (r Row) Key() string {
	return catalog.NormalizeKey(r.SKU)
}

// Chunk is a slice of raw records reconciled as one unit of work.
type Chunk struct {
	JobID string
	Index int

	// Offset is the zero-based data row offset of the first record.
	Offset int

	Records [][]string
	Numbers []int

	// Extractor is resolved once from the header and shared by every chunk.
	Extractor Extractor
}

// Len returns the number of records in the chunk.
func (c Chunk) Len() int {
	return len(c.Records)
}

// ChunkResult is the outcome of reconciling one chunk or one whole file.
type ChunkResult struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []string

	// Cancelled is set when the job was cancelled before anything was written.
	Cancelled bool
}

// Delta converts the result into counter increments for one finished chunk.
func (r ChunkResult) Delta() progress.Delta {
	return progress.Delta{
		Processed: r.Processed,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Chunks:    1,
		Errors:    r.Errors,
	}
}

// Notifier receives catalog change events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, evts ...events.Event)
}
