// Package storetest opens throwaway in-memory SQLite stores for tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"lumen/api/internal/store"
)

var seq atomic.Int64

// New returns a migrated store backed by a private in-memory database that
// is closed when the test ends.
func New(t testing.TB) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, dialect, err := store.Open(ctx, dsn, "")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.NewSQLStore(db, dialect)
}
