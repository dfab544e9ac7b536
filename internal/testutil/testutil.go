package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/flitsinc/datalab/internal/store"
)

// OpenTestDB opens a migrated sqlite file in a per-test temp dir for tests
// that need raw SQL access alongside the store.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "datalab.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db, func() {
		_ = db.Close()
	}
}

// OpenTestStore is the usual fixture entry point: a ready store over a fresh
// database, closed when the test finishes.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, closeDB := OpenTestDB(t)
	t.Cleanup(closeDB)
	return store.NewStore(db)
}
