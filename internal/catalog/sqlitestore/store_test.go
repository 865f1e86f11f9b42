package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/testutil/sqlitetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertBatch_ReturnsInInputOrder(t *testing.T) {
	s := New(sqlitetest.Open(t))
	ctx := context.Background()

	in := []catalog.Record{
		*catalog.NewRecord("Widget", "W-1", "blue"),
		*catalog.NewRecord("Gadget", "G-2", ""),
	}
	out, err := s.InsertBatch(ctx, in)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "w-1", out[0].Key)
	assert.Equal(t, "g-2", out[1].Key)
	assert.NotZero(t, out[0].ID)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.True(t, out[0].Active)
	assert.Equal(t, "blue", out[0].Description)
	assert.False(t, out[0].CreatedAt.IsZero())
}

func TestInsertBatch_SpansStatements(t *testing.T) {
	s := New(sqlitetest.Open(t))
	ctx := context.Background()

	in := make([]catalog.Record, maxBatchRows+7)
	for i := range in {
		in[i] = *catalog.NewRecord(fmt.Sprintf("Item %d", i), fmt.Sprintf("SKU-%04d", i), "")
	}
	out, err := s.InsertBatch(ctx, in)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.Equal(t, "sku-0506", out[506].Key)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, len(in))
}

func TestInsertBatch_DuplicateKey(t *testing.T) {
	s := New(sqlitetest.Open(t))
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord("Widget", "W-1", "")})
	require.NoError(t, err)

	_, err = s.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord("Other", "w-1 ", "")})
	assert.True(t, errors.Is(err, catalog.ErrDuplicateKey), "got %v", err)
}

func TestFindUpdateDelete(t *testing.T) {
	s := New(sqlitetest.Open(t))
	ctx := context.Background()

	_, err := s.FindByKey(ctx, "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	out, err := s.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord("Widget", "W-1", "old")})
	require.NoError(t, err)

	rec := out[0]
	rec.Active = false
	_, err = s.Update(ctx, rec)
	require.NoError(t, err)

	rec.Apply("Widget Pro", "w-1", "")
	updated, err := s.Update(ctx, rec)
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.Equal(t, "", updated.Description)
	assert.Equal(t, "w-1", updated.SKU)

	_, err = s.Update(ctx, catalog.Record{ID: 999, Name: "x", SKU: "x"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	deleted, err := s.Delete(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", deleted.Name)

	_, err = s.FindByKey(ctx, "w-1")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestWithTx_SavepointIsolatesFailure(t *testing.T) {
	s := New(sqlitetest.Open(t))
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord("Existing", "E-1", "")})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(q catalog.Queries) error {
		spErr := q.Savepoint(ctx, func(q catalog.Queries) error {
			_, err := q.InsertBatch(ctx, []catalog.Record{
				*catalog.NewRecord("Fine", "OK-1", ""),
				*catalog.NewRecord("Dup", "e-1", ""),
			})
			return err
		})
		assert.ErrorIs(t, spErr, catalog.ErrDuplicateKey)

		return q.Savepoint(ctx, func(q catalog.Queries) error {
			_, err := q.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord("Fresh", "F-1", "")})
			return err
		})
	})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "f-1")
	assert.NotContains(t, snap, "ok-1")
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New(sqlitetest.Open(t))
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q catalog.Queries) error {
		if _, err := q.InsertBatch(ctx, []catalog.Record{*catalog.NewRecord("A", "A-1", "")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.FindByKey(ctx, "a-1")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
