// Package admin provides destructive maintenance operations on the catalog
// and job tables.
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ResetTimeout is the maximum duration for database reset operations.
const ResetTimeout = 30 * time.Second

type execFn func(ctx context.Context, stmt string) error

// Resetter empties the tables of one database.
type Resetter struct {
	name string
	exec execFn

	jobs     []string
	products []string
}

// ForPostgres returns a Resetter for a Postgres pool.
func ForPostgres(pool *pgxpool.Pool) *Resetter {
	return &Resetter{
		name: "postgres",
		exec: func(ctx context.Context, stmt string) error {
			_, err := pool.Exec(ctx, stmt)
			return err
		},
		jobs:     []string{"TRUNCATE import_jobs"},
		products: []string{"TRUNCATE products RESTART IDENTITY"},
	}
}

// ForSQLite returns a Resetter for an SQLite database.
func ForSQLite(db *sql.DB) *Resetter {
	return &Resetter{
		name: "sqlite",
		exec: func(ctx context.Context, stmt string) error {
			_, err := db.ExecContext(ctx, stmt)
			return err
		},
		jobs: []string{"DELETE FROM import_jobs"},
		products: []string{
			"DELETE FROM products",
			"DELETE FROM sqlite_sequence WHERE name = 'products'",
		},
	}
}

// Name is the database dialect the Resetter works on.
func (r *Resetter) Name() string {
	return r.name
}

// ResetAll deletes every product and job record.
// This is a destructive operation - use with caution.
func (r *Resetter) ResetAll(ctx context.Context) error {
	return r.run(ctx, append(append([]string{}, r.jobs...), r.products...))
}

// ResetJobs deletes every job record and leaves the catalog untouched.
func (r *Resetter) ResetJobs(ctx context.Context) error {
	return r.run(ctx, r.jobs)
}

func (r *Resetter) run(ctx context.Context, stmts []string) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	for _, stmt := range stmts {
		if err := r.exec(ctx, stmt); err != nil {
			return fmt.Errorf("reset %s: %s: %w", r.name, stmt, err)
		}
	}
	return nil
}
