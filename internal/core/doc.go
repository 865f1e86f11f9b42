// Package core implements the catalog import pipeline.
//
// It holds the import logic independent of any transport: the HTTP handlers
// in internal/web and the importctl command both drive the same [Service].
//
// # Pipeline
//
// An upload is handled in two phases. The synchronous phase runs inside the
// request:
//
//  1. [Service.StartImport] checks the file name, size and strategy
//  2. The body is spooled to a temporary file while lines are counted
//  3. The header row is read and mapped to product fields ([MapColumns])
//  4. An import slot is taken and a job record is created
//
// The job id is returned at this point. The background phase then runs one
// of two strategies:
//
//   - chunked: [Coordinator] cuts the file into chunks that the dispatch pool
//     reconciles independently with [ChunkReconciler]
//   - preload: [PreloadImporter] loads the catalog keys once and reconciles
//     the whole file on one goroutine
//
// Both use the same row pipeline: [RecordReader] decodes and splits the
// file, an [Extractor] picks the mapped cells, [ValidateRow] checks them and
// [NormalizeKey] gives the key a row is matched on.
//
// # Progress
//
// [Tracker] owns the job record: counters, error tail and the status
// lifecycle pending, processing, then one of completed, failed or cancelled.
// Chunk workers report through atomic increments so out-of-order completion
// never double counts.
//
// # Cancellation
//
// Cancelling marks the job and revokes chunks that have not started. Workers
// check the job status before writing, so rows written before the cancel
// stay written and nothing is written after it was observed.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code range for support reference:
//
//   - FILE001-FILE007: File errors (size, type, encoding, header)
//   - VAL001-VAL002: Row validation errors
//   - DB001-DB006: Store errors (conflicts, duplicates, connections)
//   - JOB001-JOB004: Job errors (unknown job, finished job, strategy)
//   - UPL001-UPL004: Upload errors (cancelled, busy, timeout)
package core
