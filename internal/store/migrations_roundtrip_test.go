package store

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LUMEN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LUMEN_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, dialect, err := Open(ctx, dsn, "")
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()
	if dialect != DialectPostgres {
		t.Fatalf("expected postgres dialect, got %s", dialect)
	}

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE SCHEMA public`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := applyDownMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	s := NewSQLStore(db, dialect)
	id, err := s.InsertFeedback(ctx, Feedback{Type: "Bug Report", Description: "pg smoke"})
	if err != nil {
		t.Fatalf("insert feedback: %v", err)
	}
	if _, err := s.DeleteFeedback(ctx, id); err != nil {
		t.Fatalf("delete feedback: %v", err)
	}
}

func TestMigrationsRoundTripSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := applyDownMigrations(ctx, s.DB(), DialectSQLite); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, s.DB(), DialectSQLite); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return err
	}

	var downs []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".down.sql") {
			downs = append(downs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range downs {
		contents, err := fs.ReadFile(migrationFiles, path.Join(dir, name))
		if err != nil {
			return err
		}
		for _, statement := range splitStatements(string(contents)) {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				return err
			}
		}
	}
	return nil
}
