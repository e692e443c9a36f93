package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrCycleInFlight means a mint cycle is already pending; the scheduler must
// not open another one.
var ErrCycleInFlight = errors.New("a mint cycle is already pending")

// CreatePendingCycle opens a new mint cycle. The partial unique index on
// pending cycles guarantees at most one in-flight cycle even across engine
// restarts.
func (s *Store) CreatePendingCycle(ctx context.Context, totalMinted, ownerShare, poolShare int64) (MintCycle, error) {
	var c MintCycle
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mint_cycles (total_minted, owner_share, pool_share, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING cycle_id, minted_at, total_minted, owner_share, pool_share, status
	`, totalMinted, ownerShare, poolShare).Scan(
		&c.CycleID, &c.MintedAt, &c.TotalMinted, &c.OwnerShare, &c.PoolShare, &c.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return MintCycle{}, ErrCycleInFlight
		}
		return MintCycle{}, fmt.Errorf("failed to create pending mint cycle: %w", err)
	}
	return c, nil
}

// ConfirmCycle marks a pending cycle confirmed with both leg references.
func (s *Store) ConfirmCycle(ctx context.Context, cycleID int64, ownerTxRef, poolTxRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mint_cycles
		SET status = 'confirmed', owner_tx_ref = $2, pool_tx_ref = $3
		WHERE cycle_id = $1 AND status = 'pending'
	`, cycleID, ownerTxRef, poolTxRef)
	if err != nil {
		return fmt.Errorf("failed to confirm mint cycle %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mint cycle %d not pending: %w", cycleID, ErrNotFound)
	}
	return nil
}

// FailCycle marks a pending cycle failed with a reason. Any leg references
// already obtained are kept for operator reconciliation.
func (s *Store) FailCycle(ctx context.Context, cycleID int64, ownerTxRef, poolTxRef *string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mint_cycles
		SET status = 'failed', owner_tx_ref = $2, pool_tx_ref = $3, fail_reason = $4
		WHERE cycle_id = $1 AND status = 'pending'
	`, cycleID, ownerTxRef, poolTxRef, reason)
	if err != nil {
		return fmt.Errorf("failed to fail mint cycle %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mint cycle %d not pending: %w", cycleID, ErrNotFound)
	}
	return nil
}

// PendingCycle returns the in-flight cycle, if any.
func (s *Store) PendingCycle(ctx context.Context) (MintCycle, bool, error) {
	var c MintCycle
	err := s.pool.QueryRow(ctx, `
		SELECT cycle_id, minted_at, total_minted, owner_share, pool_share, status, owner_tx_ref, pool_tx_ref, fail_reason
		FROM mint_cycles WHERE status = 'pending'
	`).Scan(&c.CycleID, &c.MintedAt, &c.TotalMinted, &c.OwnerShare, &c.PoolShare, &c.Status, &c.OwnerTxRef, &c.PoolTxRef, &c.FailReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return MintCycle{}, false, nil
	}
	if err != nil {
		return MintCycle{}, false, fmt.Errorf("failed to get pending mint cycle: %w", err)
	}
	return c, true, nil
}

// ListCycles returns the most recent cycles, newest first.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]MintCycle, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cycle_id, minted_at, total_minted, owner_share, pool_share, status, owner_tx_ref, pool_tx_ref, fail_reason
		FROM mint_cycles ORDER BY cycle_id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mint cycles: %w", err)
	}
	defer rows.Close()

	var cycles []MintCycle
	for rows.Next() {
		var c MintCycle
		if err := rows.Scan(&c.CycleID, &c.MintedAt, &c.TotalMinted, &c.OwnerShare, &c.PoolShare, &c.Status, &c.OwnerTxRef, &c.PoolTxRef, &c.FailReason); err != nil {
			return nil, fmt.Errorf("failed to scan mint cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
