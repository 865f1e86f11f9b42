package database

import (
	"context"
	"testing"
	"time"
)

func TestSplitStatements(t *testing.T) {
	script := `
CREATE TABLE a (id INT);

CREATE INDEX ix ON a (id);
   ;
`
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(got), got)
	}
	if got[1] != "CREATE INDEX ix ON a (id)" {
		t.Errorf("got[1] = %q", got[1])
	}
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:", time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := MigrateSQLite(ctx, db); err != nil {
			t.Fatalf("MigrateSQLite() run %d error = %v", i+1, err)
		}
	}

	var n int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'ix_products_sku_key'`).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unique key index count = %d, want 1", n)
	}
}
