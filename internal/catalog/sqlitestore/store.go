// Package sqlitestore implements the catalog store on an embedded SQLite
// database, for single-node deployments and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// maxBatchRows keeps multi-row inserts under SQLite's bound-parameter limit.
const maxBatchRows = 500

const productColumns = `id, name, sku, sku_key, description, active, created_at, updated_at`

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Store is a catalog.Store backed by database/sql.
type Store struct {
	db *sql.DB
	*queries
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, queries: &queries{db: db}}
}

var _ catalog.Store = (*Store)(nil)

type queries struct {
	db         DBTX
	inTx       bool
	savepoints *int
}

type scanner interface {
	Scan(dest ...any) error
}

func (q *queries) FindByKey(ctx context.Context, key string) (catalog.Record, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE sku_key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, fmt.Errorf("find product %q: %w", key, err)
	}
	return rec, nil
}

// InsertBatch inserts records with multi-row INSERT ... RETURNING statements.
func (q *queries) InsertBatch(ctx context.Context, recs []catalog.Record) ([]catalog.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	byKey := make(map[string]catalog.Record, len(recs))
	now := time.Now().UTC().UnixMicro()

	for start := 0; start < len(recs); start += maxBatchRows {
		end := min(start+maxBatchRows, len(recs))
		part := recs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO products (name, sku, sku_key, description, active, created_at, updated_at) VALUES `)
		args := make([]any, 0, len(part)*7)
		for i, r := range part {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, r.Name, r.SKU, r.Key, nullString(r.Description), r.Active, now, now)
		}
		sb.WriteString(` RETURNING ` + productColumns)

		rows, err := q.db.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, mapError("insert products", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan inserted product: %w", err)
			}
			byKey[rec.Key] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, mapError("insert products", err)
		}
	}

	out := make([]catalog.Record, len(recs))
	for i, r := range recs {
		got, ok := byKey[r.Key]
		if !ok {
			return nil, fmt.Errorf("insert products: no row returned for %q", r.Key)
		}
		out[i] = got
	}
	return out, nil
}

func (q *queries) Update(ctx context.Context, rec catalog.Record) (catalog.Record, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = ?, sku = ?, description = ?, active = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+productColumns,
		rec.Name, rec.SKU, nullString(rec.Description), rec.Active, time.Now().UTC().UnixMicro(), rec.ID)
	out, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, mapError("update product", err)
	}
	return out, nil
}

func (q *queries) Savepoint(ctx context.Context, fn func(catalog.Queries) error) error {
	if !q.inTx {
		return fn(q)
	}

	*q.savepoints++
	name := fmt.Sprintf("sp_%d", *q.savepoints)
	if _, err := q.db.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(q); err != nil {
		if _, rbErr := q.db.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		_, _ = q.db.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}

	_, err := q.db.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (s *Store) Snapshot(ctx context.Context) (map[string]*catalog.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products`)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*catalog.Record)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[rec.Key] = &rec
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, key string) (catalog.Record, error) {
	row := s.db.QueryRowContext(ctx, `DELETE FROM products WHERE sku_key = ? RETURNING `+productColumns, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, fmt.Errorf("delete product %q: %w", key, err)
	}
	return rec, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(catalog.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := fn(&queries{db: tx, inTx: true, savepoints: &n}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the database is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func scanRecord(row scanner) (catalog.Record, error) {
	var (
		rec              catalog.Record
		desc             sql.NullString
		created, updated int64
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.SKU, &rec.Key, &desc, &rec.Active, &created, &updated)
	if err != nil {
		return catalog.Record{}, err
	}
	rec.Description = desc.String
	rec.CreatedAt = time.UnixMicro(created).UTC()
	rec.UpdatedAt = time.UnixMicro(updated).UTC()
	return rec, nil
}

func mapError(op string, err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return fmt.Errorf("%s: %w", op, catalog.ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
