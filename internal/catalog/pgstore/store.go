// Package pgstore implements the catalog store on PostgreSQL using pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const productColumns = `id, name, sku, sku_key, description, active, created_at, updated_at`

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store is a catalog.Store backed by a connection pool.
type Store struct {
	pool *pgxpool.Pool
	*queries
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: &queries{db: pool}}
}

var _ catalog.Store = (*Store)(nil)

// queries runs statements against either the pool or a transaction.
// savepoints counts savepoints opened in the current transaction.
type queries struct {
	db         DBTX
	inTx       bool
	savepoints *int
}

func (q *queries) FindByKey(ctx context.Context, key string) (catalog.Record, error) {
	row := q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku_key = $1`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, fmt.Errorf("find product %q: %w", key, err)
	}
	return rec, nil
}

// InsertBatch inserts all records with a single unnest statement.
func (q *queries) InsertBatch(ctx context.Context, recs []catalog.Record) ([]catalog.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	names := make([]string, len(recs))
	skus := make([]string, len(recs))
	keys := make([]string, len(recs))
	descs := make([]pgtype.Text, len(recs))
	active := make([]bool, len(recs))
	for i, r := range recs {
		names[i] = r.Name
		skus[i] = r.SKU
		keys[i] = r.Key
		descs[i] = toPgText(r.Description)
		active[i] = r.Active
	}

	rows, err := q.db.Query(ctx, `
		INSERT INTO products (name, sku, sku_key, description, active)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::bool[])
		RETURNING `+productColumns,
		names, skus, keys, descs, active)
	if err != nil {
		return nil, mapError("insert products", err)
	}
	defer rows.Close()

	byKey := make(map[string]catalog.Record, len(recs))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inserted product: %w", err)
		}
		byKey[rec.Key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("insert products", err)
	}

	// RETURNING order is not guaranteed to match input order.
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
	row := q.db.QueryRow(ctx, `
		UPDATE products
		SET name = $2, sku = $3, description = $4, active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		rec.ID, rec.Name, rec.SKU, toPgText(rec.Description), rec.Active)
	out, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, mapError("update product", err)
	}
	return out, nil
}

// Savepoint wraps fn in SAVEPOINT / ROLLBACK TO / RELEASE. Outside a
// transaction fn runs directly.
func (q *queries) Savepoint(ctx context.Context, fn func(catalog.Queries) error) error {
	if !q.inTx {
		return fn(q)
	}

	*q.savepoints++
	name := fmt.Sprintf("sp_%d", *q.savepoints)
	if _, err := q.db.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(q); err != nil {
		if _, rbErr := q.db.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}

	_, err := q.db.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// Snapshot loads the whole catalog into memory.
func (s *Store) Snapshot(ctx context.Context) (map[string]*catalog.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products`)
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
	row := s.pool.QueryRow(ctx, `DELETE FROM products WHERE sku_key = $1 RETURNING `+productColumns, key)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, fmt.Errorf("delete product %q: %w", key, err)
	}
	return rec, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(catalog.Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var n int
	if err := fn(&queries{db: tx, inTx: true, savepoints: &n}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func scanRecord(row pgx.Row) (catalog.Record, error) {
	var (
		rec  catalog.Record
		desc pgtype.Text
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.SKU, &rec.Key, &desc, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return catalog.Record{}, err
	}
	rec.Description = desc.String
	return rec, nil
}

// mapError converts unique violations on the key index to ErrDuplicateKey.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, catalog.ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
