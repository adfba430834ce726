package db

import (
	"context"
	"database/sql"
	"time"
)

// =============================================================================
// Option Operations
// =============================================================================

// GetOption retrieves the value stored under name
func (db *DB) GetOption(ctx context.Context, name string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetOption creates or overwrites an option
func (db *DB) SetOption(ctx context.Context, name, value string) error {
	_, err := db.ExecContext(ctx, upsertOptionQuery, name, value, time.Now().Unix())
	return err
}

// SetOption creates or overwrites an option within a transaction
func (tx *Tx) SetOption(ctx context.Context, name, value string) error {
	_, err := tx.ExecContext(ctx, upsertOptionQuery, name, value, time.Now().Unix())
	return err
}

// DeleteOption removes an option. Deleting a missing option returns ErrNotFound.
func (db *DB) DeleteOption(ctx context.Context, name string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM options WHERE name = ?`, name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

const upsertOptionQuery = `
	INSERT INTO options (name, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`
