// Package pgstore persists job progress in the import_jobs table so every
// replica behind the API sees the same record.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, status, total_rows, processed_rows, successful_rows, failed_rows, skipped_rows,
	errors, message, file_name, strategy, group_id, total_chunks, completed_chunks,
	created_at, updated_at, completed_at`

// Store is a progress.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New wraps an open, migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

var _ progress.Store = (*Store)(nil)

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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_jobs (id, status, total_rows, processed_rows, successful_rows, failed_rows,
			skipped_rows, errors, message, file_name, strategy, group_id, total_chunks, completed_chunks,
			created_at, updated_at, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		job.ID, string(job.Status), job.TotalRows, job.ProcessedRows, job.SuccessfulRows, job.FailedRows,
		job.SkippedRows, errs, job.Message, job.FileName, job.Strategy, job.GroupID, job.TotalChunks,
		job.CompletedChunks, job.CreatedAt, now, toPgTimestamptz(job.CompletedAt), now.Add(ttl))
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (progress.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = $1 AND expires_at > $2`, id, s.now().UTC())
	return scanJob(row, id)
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes back.
func (s *Store) Update(ctx context.Context, id string, ttl time.Duration, fn func(*progress.Job) error) (progress.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return progress.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = $1 AND expires_at > $2 FOR UPDATE`, id, now), id)
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

	_, err = tx.Exec(ctx, `
		UPDATE import_jobs SET
			status = $2, total_rows = $3, processed_rows = $4, successful_rows = $5, failed_rows = $6,
			skipped_rows = $7, errors = $8, message = $9, group_id = $10, total_chunks = $11,
			completed_chunks = $12, updated_at = $13, completed_at = $14, expires_at = $15
		WHERE id = $1`,
		id, string(job.Status), job.TotalRows, job.ProcessedRows, job.SuccessfulRows, job.FailedRows,
		job.SkippedRows, errs, job.Message, job.GroupID, job.TotalChunks, job.CompletedChunks,
		now, toPgTimestamptz(job.CompletedAt), now.Add(ttl))
	if err != nil {
		return progress.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return progress.Job{}, fmt.Errorf("commit job %s: %w", id, err)
	}
	return job, nil
}

// Increment applies d in a single UPDATE so concurrent workers never lose counts.
// The error list keeps the newest tail entries.
func (s *Store) Increment(ctx context.Context, id string, ttl time.Duration, d progress.Delta, tail int) (progress.Job, error) {
	errs, err := json.Marshal(append([]string{}, d.Errors...))
	if err != nil {
		return progress.Job{}, fmt.Errorf("encode errors: %w", err)
	}

	now := s.now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE import_jobs SET
			processed_rows   = processed_rows + $2,
			successful_rows  = successful_rows + $3,
			failed_rows      = failed_rows + $4,
			skipped_rows     = skipped_rows + $5,
			completed_chunks = completed_chunks + $6,
			total_rows       = GREATEST(total_rows, processed_rows + $2),
			errors = (
				SELECT COALESCE(jsonb_agg(e ORDER BY ord), '[]'::jsonb)
				FROM (
					SELECT e, ord
					FROM jsonb_array_elements(errors || $7::jsonb) WITH ORDINALITY AS t(e, ord)
					ORDER BY ord DESC
					LIMIT $8
				) newest
			),
			updated_at = $9,
			expires_at = $10
		WHERE id = $1 AND expires_at > $9
		RETURNING `+jobColumns,
		id, d.Processed, d.Succeeded, d.Failed, d.Skipped, d.Chunks, errs, max(tail, 0), now, now.Add(ttl))
	return scanJob(row, id)
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM import_jobs WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanJob(row pgx.Row, id string) (progress.Job, error) {
	var (
		job       progress.Job
		status    string
		errs      []byte
		completed pgtype.Timestamptz
	)
	err := row.Scan(&job.ID, &status, &job.TotalRows, &job.ProcessedRows, &job.SuccessfulRows,
		&job.FailedRows, &job.SkippedRows, &errs, &job.Message, &job.FileName, &job.Strategy,
		&job.GroupID, &job.TotalChunks, &job.CompletedChunks, &job.CreatedAt, &job.UpdatedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.Job{}, progress.ErrNotFound
	}
	if err != nil {
		return progress.Job{}, fmt.Errorf("read job %s: %w", id, err)
	}

	job.Status = progress.Status(status)
	if err := json.Unmarshal(errs, &job.Errors); err != nil {
		return progress.Job{}, fmt.Errorf("decode errors of job %s: %w", id, err)
	}
	if completed.Valid {
		t := completed.Time.UTC()
		job.CompletedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.Recompute()
	return job, nil
}

func toPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
