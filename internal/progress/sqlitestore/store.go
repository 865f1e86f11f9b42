// Package sqlitestore persists job progress in the embedded SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
)

const jobColumns = `id, status, total_rows, processed_rows, successful_rows, failed_rows, skipped_rows,
	errors, message, file_name, strategy, group_id, total_chunks, completed_chunks,
	created_at, updated_at, completed_at`

// Store is a progress.Store on SQLite. The database is opened with a single
// connection, so each transaction below is serialised against all others.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

var _ progress.Store = (*Store)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) Create(ctx context.Context, job progress.Job, ttl time.Duration) error {
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.Recompute()

	errs, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_jobs (id, status, total_rows, processed_rows, successful_rows, failed_rows,
			skipped_rows, errors, message, file_name, strategy, group_id, total_chunks, completed_chunks,
			created_at, updated_at, completed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.TotalRows, job.ProcessedRows, job.SuccessfulRows, job.FailedRows,
		job.SkippedRows, string(errs), job.Message, job.FileName, job.Strategy, job.GroupID, job.TotalChunks,
		job.CompletedChunks, job.CreatedAt.UnixMicro(), now.UnixMicro(), micros(job.CompletedAt),
		now.Add(ttl).UnixMicro())
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (progress.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = ? AND expires_at > ?`, id, s.now().UTC().UnixMicro())
	return scanJob(row, id)
}

func (s *Store) Update(ctx context.Context, id string, ttl time.Duration, fn func(*progress.Job) error) (progress.Job, error) {
	return s.modify(ctx, id, ttl, fn)
}

// Increment applies d inside a transaction; the single connection makes the
// read-modify-write atomic.
func (s *Store) Increment(ctx context.Context, id string, ttl time.Duration, d progress.Delta, tail int) (progress.Job, error) {
	return s.modify(ctx, id, ttl, func(j *progress.Job) error {
		d.Apply(j, tail)
		return nil
	})
}

func (s *Store) modify(ctx context.Context, id string, ttl time.Duration, fn func(*progress.Job) error) (progress.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return progress.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = ? AND expires_at > ?`, id, now.UnixMicro()), id)
	if err != nil {
		return progress.Job{}, err
	}

	before := job.Clone()
	if err := fn(&job); err != nil {
		return before, err
	}
	job.Recompute()
	job.UpdatedAt = now

	errs, err := json.Marshal(job.Errors)
	if err != nil {
		return progress.Job{}, fmt.Errorf("encode errors: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE import_jobs SET
			status = ?, total_rows = ?, processed_rows = ?, successful_rows = ?, failed_rows = ?,
			skipped_rows = ?, errors = ?, message = ?, group_id = ?, total_chunks = ?,
			completed_chunks = ?, updated_at = ?, completed_at = ?, expires_at = ?
		WHERE id = ?`,
		string(job.Status), job.TotalRows, job.ProcessedRows, job.SuccessfulRows, job.FailedRows,
		job.SkippedRows, string(errs), job.Message, job.GroupID, job.TotalChunks, job.CompletedChunks,
		now.UnixMicro(), micros(job.CompletedAt), now.Add(ttl).UnixMicro(), id)
	if err != nil {
		return progress.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return progress.Job{}, fmt.Errorf("commit job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM import_jobs WHERE expires_at <= ?`, now.UTC().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanJob(row scanner, id string) (progress.Job, error) {
	var (
		job              progress.Job
		status, errs     string
		created, updated int64
		completed        sql.NullInt64
	)
	err := row.Scan(&job.ID, &status, &job.TotalRows, &job.ProcessedRows, &job.SuccessfulRows,
		&job.FailedRows, &job.SkippedRows, &errs, &job.Message, &job.FileName, &job.Strategy,
		&job.GroupID, &job.TotalChunks, &job.CompletedChunks, &created, &updated, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Job{}, progress.ErrNotFound
	}
	if err != nil {
		return progress.Job{}, fmt.Errorf("read job %s: %w", id, err)
	}

	job.Status = progress.Status(status)
	if err := json.Unmarshal([]byte(errs), &job.Errors); err != nil {
		return progress.Job{}, fmt.Errorf("decode errors of job %s: %w", id, err)
	}
	job.CreatedAt = time.UnixMicro(created).UTC()
	job.UpdatedAt = time.UnixMicro(updated).UTC()
	if completed.Valid {
		t := time.UnixMicro(completed.Int64).UTC()
		job.CompletedAt = &t
	}
	job.Recompute()
	return job, nil
}

func micros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}
