package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/logging"
)

// ErrInvalidBody is returned when a product request body cannot be decoded.
var ErrInvalidBody = errors.New("invalid request body")

// ErrKeyMismatch is returned when an update names a SKU whose key differs
// from the product being updated.
var ErrKeyMismatch = ValidationError{Field: "sku", Message: "SKU does not match the product being updated"}

// ProductInput is the body of a single-product create or update.
type ProductInput struct {
	Name        string `json:"name"`
	SKU         string `json:"sku"`
	Description string `json:"description"`
}

func (in ProductInput) row() Row {
	return Row{
		Name:        strings.TrimSpace(in.Name),
		SKU:         strings.TrimSpace(in.SKU),
		Description: strings.TrimSpace(in.Description),
	}
}

// Product returns the record for sku, matched on its canonical key.
func (s *Service) Product(ctx context.Context, sku string) (catalog.Record, error) {
	key := catalog.NormalizeKey(sku)
	if key == "" {
		return catalog.Record{}, catalog.ErrNotFound
	}
	return s.catalog.FindByKey(ctx, key)
}

// CreateProduct validates in, inserts it and emits product.created. A SKU
// whose key already exists fails with catalog.ErrDuplicateKey.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (catalog.Record, error) {
	row := in.row()
	if err := ValidateRow(row); err != nil {
		return catalog.Record{}, err
	}

	var rec catalog.Record
	err := s.catalog.WithTx(ctx, func(q catalog.Queries) error {
		saved, err := q.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord(row.Name, row.SKU, row.Description)})
		if err != nil {
			return err
		}
		rec = saved[0]
		return nil
	})
	if err != nil {
		return catalog.Record{}, fmt.Errorf("create product %q: %w", row.SKU, err)
	}

	s.notifier.Notify(ctx, events.NewEvent(events.ProductCreated, rec))
	logging.WithFields(ctx, RequestMetaFromContext(ctx).logArgs()...).
		Info("product created", "id", rec.ID, "sku", rec.SKU)
	return rec, nil
}

// UpdateProduct overwrites the product for sku and emits product.updated.
// An empty input SKU keeps the path SKU; any other SKU must share its key.
// The product is reactivated, matching an import update.
func (s *Service) UpdateProduct(ctx context.Context, sku string, in ProductInput) (catalog.Record, error) {
	key := catalog.NormalizeKey(sku)
	if key == "" {
		return catalog.Record{}, catalog.ErrNotFound
	}

	row := in.row()
	if row.SKU == "" {
		row.SKU = strings.TrimSpace(sku)
	}
	if err := ValidateRow(row); err != nil {
		return catalog.Record{}, err
	}
	if row.Key() != key {
		return catalog.Record{}, ErrKeyMismatch
	}

	var rec catalog.Record
	err := s.catalog.WithTx(ctx, func(q catalog.Queries) error {
		cur, err := q.FindByKey(ctx, key)
		if err != nil {
			return err
		}
		cur.Apply(row.Name, row.SKU, row.Description)
		rec, err = q.Update(ctx, cur)
		return err
	})
	if err != nil {
		return catalog.Record{}, fmt.Errorf("update product %q: %w", key, err)
	}

	s.notifier.Notify(ctx, events.NewEvent(events.ProductUpdated, rec))
	logging.WithFields(ctx, RequestMetaFromContext(ctx).logArgs()...).
		Info("product updated", "id", rec.ID, "sku", rec.SKU)
	return rec, nil
}

// DeleteProduct removes the record for sku and emits product.deleted.
func (s *Service) DeleteProduct(ctx context.Context, sku string) (catalog.Record, error) {
	key := catalog.NormalizeKey(sku)
	if key == "" {
		return catalog.Record{}, catalog.ErrNotFound
	}
	rec, err := s.catalog.Delete(ctx, key)
	if err != nil {
		return catalog.Record{}, err
	}
	s.notifier.Notify(ctx, events.NewEvent(events.ProductDeleted, rec))
	logging.WithFields(ctx, RequestMetaFromContext(ctx).logArgs()...).
		Info("product deleted", "id", rec.ID, "sku", rec.SKU)
	return rec, nil
}
