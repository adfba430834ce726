package db

import (
	"context"
	"time"
)

// =============================================================================
// Transient Operations
// =============================================================================

// DeleteExpiredTransients removes every entry whose expiry is strictly
// before now and returns how many were removed.
func (db *DB) DeleteExpiredTransients(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM transients WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AcquireLease claims name for owner until now+ttl. An expired lease held
// by someone else is taken over; a live one returns ErrLeaseHeld.
func (db *DB) AcquireLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transients WHERE name = ? AND expires_at < ?`, name, now.Unix(),
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO transients (name, value, expires_at) VALUES (?, ?, ?)`,
			name, owner, now.Add(ttl).Unix(),
		)
		if IsDuplicate(err) {
			return ErrLeaseHeld
		}
		return err
	})
}

// ReleaseLease drops the lease if it is still held by owner.
func (db *DB) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM transients WHERE name = ? AND value = ?`, name, owner)
	return err
}
