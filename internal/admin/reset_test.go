package admin

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/catalog/sqlitestore"
	"github.com/JonMunkholm/catalog-import/internal/progress"
	progresssqlite "github.com/JonMunkholm/catalog-import/internal/progress/sqlitestore"
	"github.com/JonMunkholm/catalog-import/internal/testutil/sqlitetest"
)

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	_, err := sqlitestore.New(db).InsertBatch(ctx, []catalog.Record{
		*catalog.NewRecord("Widget", "W-1", ""),
		*catalog.NewRecord("Gadget", "G-2", ""),
	})
	require.NoError(t, err)
	require.NoError(t, progresssqlite.New(db).Create(ctx, progress.Job{ID: "job-1", Status: progress.StatusCompleted}, time.Hour))
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestResetJobs(t *testing.T) {
	db := sqlitetest.Open(t)
	seed(t, db)

	require.NoError(t, ForSQLite(db).ResetJobs(context.Background()))
	assert.Equal(t, 0, count(t, db, "import_jobs"))
	assert.Equal(t, 2, count(t, db, "products"))
}

func TestResetAll(t *testing.T) {
	db := sqlitetest.Open(t)
	seed(t, db)
	r := ForSQLite(db)

	require.NoError(t, r.ResetAll(context.Background()))
	assert.Equal(t, 0, count(t, db, "import_jobs"))
	assert.Equal(t, 0, count(t, db, "products"))
	assert.Equal(t, "sqlite", r.Name())

	// Ids start over after a reset.
	saved, err := sqlitestore.New(db).InsertBatch(context.Background(), []catalog.Record{*catalog.NewRecord("New", "N-1", "")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved[0].ID)
}

func TestReset_ReportsFailingStatement(t *testing.T) {
	db := sqlitetest.Open(t)
	require.NoError(t, db.Close())

	err := ForSQLite(db).ResetAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset sqlite: DELETE FROM import_jobs")
}
