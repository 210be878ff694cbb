package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetMigrationState returns the stored value for key and whether it exists.
func (s *SQLStore) GetMigrationState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM migration_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get migration state %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) SetMigrationState(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO migration_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(now()))
	if err != nil {
		return fmt.Errorf("set migration state %s: %w", key, err)
	}
	return nil
}
