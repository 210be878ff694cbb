package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Open connects to the database named by databaseURL. Remote libsql URLs go
// to Turso, postgres URLs to pgx, and everything else is treated as a local
// SQLite file or in-memory database.
func Open(ctx context.Context, databaseURL, authToken string) (*sql.DB, Dialect, error) {
	driver, dsn, dialect, err := resolveDriver(databaseURL, authToken)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}

	switch {
	case dialect == DialectSQLite && isMemoryDSN(dsn):
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case dialect == DialectSQLite:
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	default:
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}

func resolveDriver(databaseURL, authToken string) (driver, dsn string, dialect Dialect, err error) {
	raw := strings.TrimSpace(databaseURL)
	if raw == "" {
		return "", "", "", fmt.Errorf("database url is empty")
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", raw, DialectPostgres, nil
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		dsn, err := withAuthToken(raw, authToken)
		if err != nil {
			return "", "", "", err
		}
		return "libsql", dsn, DialectSQLite, nil
	case raw == ":memory:":
		return "sqlite3", "file:feedback?mode=memory&cache=shared&_pragma=foreign_keys(ON)", DialectSQLite, nil
	case strings.HasPrefix(lower, "file:"):
		dsn := raw
		if !strings.Contains(dsn, "_pragma=busy_timeout") {
			dsn += sep(dsn) + "_pragma=busy_timeout(10000)"
		}
		return "sqlite3", dsn, DialectSQLite, nil
	default:
		return "sqlite3", "file:" + raw + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)", DialectSQLite, nil
	}
}

func withAuthToken(raw, authToken string) (string, error) {
	if strings.TrimSpace(authToken) == "" {
		return raw, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", authToken)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:")
}

func sep(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}
