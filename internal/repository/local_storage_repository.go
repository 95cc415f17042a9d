package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// LocalStorageRepository is a string key/value store backed by the local_storage table.
// It stands in for browser localStorage: values are opaque JSON documents.
type LocalStorageRepository struct {
	db *sql.DB
}

// NewLocalStorageRepository creates a new local storage repository
func NewLocalStorageRepository(db *sql.DB) *LocalStorageRepository {
	return &LocalStorageRepository{db: db}
}

// Get returns the stored value and whether the key exists
func (r *LocalStorageRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM local_storage WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read local storage key %s: %w", key, err)
	}
	return value, true, nil
}

// Put inserts or replaces the value stored under key
func (r *LocalStorageRepository) Put(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO local_storage (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write local storage key %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error
func (r *LocalStorageRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM local_storage WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete local storage key %s: %w", key, err)
	}
	return nil
}
