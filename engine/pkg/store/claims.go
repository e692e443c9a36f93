package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetClaim returns a claim by id.
func (s *Store) GetClaim(ctx context.Context, claimID uuid.UUID) (Claim, error) {
	var c Claim
	err := s.pool.QueryRow(ctx, `
		SELECT claim_id, player_id, requested_amount, status, tx_ref, fail_reason, created_at, updated_at
		FROM claims WHERE claim_id = $1
	`, claimID).Scan(&c.ClaimID, &c.PlayerID, &c.RequestedAmount, &c.Status, &c.TxRef, &c.FailReason, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, fmt.Errorf("claim %s: %w", claimID, ErrNotFound)
	}
	if err != nil {
		return Claim{}, fmt.Errorf("failed to get claim %s: %w", claimID, err)
	}
	return c, nil
}

// OpenClaimByPlayer returns the player's non-terminal claim, if one exists.
// A submitted claim whose outcome is still unknown blocks new claims until
// reconciled.
func (s *Store) OpenClaimByPlayer(ctx context.Context, playerID string) (Claim, bool, error) {
	var c Claim
	err := s.pool.QueryRow(ctx, `
		SELECT claim_id, player_id, requested_amount, status, tx_ref, fail_reason, created_at, updated_at
		FROM claims
		WHERE player_id = $1 AND status IN ('pending', 'submitted')
		ORDER BY created_at
		LIMIT 1
	`, playerID).Scan(&c.ClaimID, &c.PlayerID, &c.RequestedAmount, &c.Status, &c.TxRef, &c.FailReason, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, fmt.Errorf("failed to get open claim for player %s: %w", playerID, err)
	}
	return c, true, nil
}

// MarkClaimSubmitted records the ledger submission reference.
func (s *Store) MarkClaimSubmitted(ctx context.Context, claimID uuid.UUID, txRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET status = 'submitted', tx_ref = $2, updated_at = now()
		WHERE claim_id = $1 AND status = 'pending'
	`, claimID, txRef)
	if err != nil {
		return fmt.Errorf("failed to mark claim %s submitted: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s not pending: %w", claimID, ErrNotFound)
	}
	return nil
}

// ConfirmClaimAndSettle finalizes an open claim and settles its covered
// events in one transaction, so a confirmed claim can never leave its
// coverage counted as outstanding liability.
func (s *Store) ConfirmClaimAndSettle(ctx context.Context, claimID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin confirm transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE claims SET status = 'confirmed', updated_at = now()
		WHERE claim_id = $1 AND status IN ('pending', 'submitted')
	`, claimID)
	if err != nil {
		return fmt.Errorf("failed to mark claim %s confirmed: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s not open: %w", claimID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE earn_events SET settled = true WHERE claim_id = $1
	`, claimID); err != nil {
		return fmt.Errorf("failed to settle claim %s coverage: %w", claimID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit confirm transaction: %w", err)
	}
	return nil
}

// MarkClaimFailed records a terminal failure with its reason.
func (s *Store) MarkClaimFailed(ctx context.Context, claimID uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET status = 'failed', fail_reason = $2, updated_at = now()
		WHERE claim_id = $1 AND status IN ('pending', 'submitted')
	`, claimID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark claim %s failed: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s not open: %w", claimID, ErrNotFound)
	}
	return nil
}
