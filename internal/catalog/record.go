// Package catalog defines the product record, its canonical key, and the
// storage contract shared by the Postgres and SQLite catalog stores.
//
// Every record is identified by its canonical key: the trimmed, lower-cased
// SKU produced by NormalizeKey. Stores persist the key in its own column
// behind a UNIQUE index so that concurrent writers racing on the same SKU are
// rejected by the database rather than producing duplicates.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxFieldLength is the longest name or SKU a record may carry.
const MaxFieldLength = 255

var (
	// ErrNotFound is returned when no record matches a key.
	ErrNotFound = errors.New("product not found")

	// ErrDuplicateKey is returned when an insert violates the unique key index.
	ErrDuplicateKey = errors.New("sku key violates unique index")
)

// Record is a single product in the catalog.
type Record struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SKU         string    `json:"sku"`
	Key         string    `json:"-"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeKey returns the canonical comparison form of a SKU.
// The same function is used at write time and at lookup time.
func NormalizeKey(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// Persisted reports whether the record has been written to a store.
func (r *Record) Persisted() bool {
	return r.ID != 0
}

// Apply overwrites the mutable fields from an incoming row.
// The canonical key never changes; the display SKU takes the incoming casing
// and the record is always reactivated.
func (r *Record) Apply(name, sku, description string) {
	r.Name = name
	r.SKU = sku
	r.Description = description
	r.Active = true
}

// NewRecord builds an unsaved active record from row values.
func NewRecord(name, sku, description string) *Record {
	return &Record{
		Name:        name,
		SKU:         sku,
		Key:         NormalizeKey(sku),
		Description: description,
		Active:      true,
	}
}

// Queries is the set of operations available both on a store and inside a
// transaction.
type Queries interface {
	// FindByKey returns the record whose canonical key equals key.
	// The key must already be normalized.
	FindByKey(ctx context.Context, key string) (Record, error)

	// InsertBatch inserts all records in one statement and returns them with
	// ids and timestamps set, in input order. A unique violation fails the
	// whole batch with ErrDuplicateKey.
	InsertBatch(ctx context.Context, recs []Record) ([]Record, error)

	// Update overwrites name, SKU, description and active of the record with
	// the given id and bumps updated_at.
	Update(ctx context.Context, rec Record) (Record, error)

	// Savepoint runs fn inside a savepoint; an error rolls back only the work
	// done by fn. Only meaningful inside WithTx.
	Savepoint(ctx context.Context, fn func(Queries) error) error
}

// Store is a catalog backend.
type Store interface {
	Queries

	// Snapshot loads every record keyed by canonical key.
	Snapshot(ctx context.Context) (map[string]*Record, error)

	// Delete removes the record with the given canonical key.
	Delete(ctx context.Context, key string) (Record, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Queries) error) error

	Ping(ctx context.Context) error
	Close() error
}
