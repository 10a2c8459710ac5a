package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// runLockStore implements driven.RunLockStore.
//
// The lease lives in a single pinned row. Acquire and Release run inside
// transactions so two engine processes sharing the database file cannot
// both hold a live lease.
type runLockStore struct {
	store *Store
}

var _ driven.RunLockStore = (*runLockStore)(nil)

// Acquire takes the lease for holderID. A live lease held by another
// holder fails with ErrLockContention; a stale lease is broken and the
// previous holder's id is returned.
func (s *runLockStore) Acquire(ctx context.Context, holderID string, ttl time.Duration) (string, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	var lease domain.RunLease
	var ttlSeconds int64
	row := tx.QueryRowContext(ctx, "SELECT holder_id, acquired_at, ttl_seconds FROM run_lock WHERE id = 1")
	err = row.Scan(&lease.HolderID, &lease.AcquiredAt, &ttlSeconds)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_lock (id, holder_id, acquired_at, ttl_seconds)
			VALUES (1, ?, ?, ?)
		`, holderID, now, int64(ttl.Seconds()))
		if err != nil {
			return "", fmt.Errorf("inserting lease: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("committing transaction: %w", err)
		}
		return "", nil

	case err != nil:
		return "", fmt.Errorf("reading lease: %w", err)
	}

	lease.TTL = time.Duration(ttlSeconds) * time.Second

	brokenHolder := ""
	if lease.HolderID != holderID {
		if !lease.Stale(now) {
			return "", fmt.Errorf("%w: lease held by %s", domain.ErrLockContention, lease.HolderID)
		}
		brokenHolder = lease.HolderID
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE run_lock SET holder_id = ?, acquired_at = ?, ttl_seconds = ? WHERE id = 1
	`, holderID, now, int64(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("taking lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	return brokenHolder, nil
}

// Release frees the lease if holderID still owns it. Releasing a lease
// another holder has since broken and taken is a no-op.
func (s *runLockStore) Release(ctx context.Context, holderID string) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM run_lock WHERE id = 1 AND holder_id = ?", holderID)
	if err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}
