package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateBridgeTransfer opens a transfer in the initiated state.
func (s *Store) CreateBridgeTransfer(ctx context.Context, transferID uuid.UUID, playerID string, sourceChain, destChain uint16, amount, fee int64) (BridgeTransfer, error) {
	var t BridgeTransfer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bridge_transfers (transfer_id, player_id, source_chain, dest_chain, amount, fee, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'initiated')
		RETURNING transfer_id, player_id, source_chain, dest_chain, amount, fee, status,
		          lock_tx_ref, mint_tx_ref, refund_tx_ref, fail_reason, created_at, updated_at
	`, transferID, playerID, sourceChain, destChain, amount, fee).Scan(
		&t.TransferID, &t.PlayerID, &t.SourceChain, &t.DestChain, &t.Amount, &t.Fee, &t.Status,
		&t.LockTxRef, &t.MintTxRef, &t.RefundTxRef, &t.FailReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return BridgeTransfer{}, fmt.Errorf("failed to create bridge transfer: %w", err)
	}
	return t, nil
}

// GetBridgeTransfer returns a transfer by id.
func (s *Store) GetBridgeTransfer(ctx context.Context, transferID uuid.UUID) (BridgeTransfer, error) {
	var t BridgeTransfer
	err := s.pool.QueryRow(ctx, `
		SELECT transfer_id, player_id, source_chain, dest_chain, amount, fee, status,
		       lock_tx_ref, mint_tx_ref, refund_tx_ref, fail_reason, created_at, updated_at
		FROM bridge_transfers WHERE transfer_id = $1
	`, transferID).Scan(
		&t.TransferID, &t.PlayerID, &t.SourceChain, &t.DestChain, &t.Amount, &t.Fee, &t.Status,
		&t.LockTxRef, &t.MintTxRef, &t.RefundTxRef, &t.FailReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return BridgeTransfer{}, fmt.Errorf("bridge transfer %s: %w", transferID, ErrNotFound)
	}
	if err != nil {
		return BridgeTransfer{}, fmt.Errorf("failed to get bridge transfer %s: %w", transferID, err)
	}
	return t, nil
}

// RecordBridgeLockRef persists the lock submission reference before the
// transaction is confirmed, so an ambiguous outcome still leaves a trail to
// the funds.
func (s *Store) RecordBridgeLockRef(ctx context.Context, transferID uuid.UUID, lockTxRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers SET lock_tx_ref = $2, updated_at = now()
		WHERE transfer_id = $1 AND status = 'initiated'
	`, transferID, lockTxRef)
	if err != nil {
		return fmt.Errorf("failed to record bridge transfer %s lock ref: %w", transferID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bridge transfer %s not initiated: %w", transferID, ErrNotFound)
	}
	return nil
}

// MarkBridgeLocked records the source-side lock reference.
func (s *Store) MarkBridgeLocked(ctx context.Context, transferID uuid.UUID, lockTxRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers SET status = 'locked_source', lock_tx_ref = $2, updated_at = now()
		WHERE transfer_id = $1 AND status = 'initiated'
	`, transferID, lockTxRef)
	if err != nil {
		return fmt.Errorf("failed to mark bridge transfer %s locked: %w", transferID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bridge transfer %s not initiated: %w", transferID, ErrNotFound)
	}
	return nil
}

// MarkBridgeMinted finalizes a successful destination mint.
func (s *Store) MarkBridgeMinted(ctx context.Context, transferID uuid.UUID, mintTxRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers SET status = 'minted_dest', mint_tx_ref = $2, updated_at = now()
		WHERE transfer_id = $1 AND status = 'locked_source'
	`, transferID, mintTxRef)
	if err != nil {
		return fmt.Errorf("failed to mark bridge transfer %s minted: %w", transferID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bridge transfer %s not locked: %w", transferID, ErrNotFound)
	}
	return nil
}

// MarkBridgeFailed records a terminal failure; refundTxRef is set when the
// source-side lock was reversed.
func (s *Store) MarkBridgeFailed(ctx context.Context, transferID uuid.UUID, refundTxRef *string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers SET status = 'failed', refund_tx_ref = $2, fail_reason = $3, updated_at = now()
		WHERE transfer_id = $1 AND status IN ('initiated', 'locked_source')
	`, transferID, refundTxRef, reason)
	if err != nil {
		return fmt.Errorf("failed to mark bridge transfer %s failed: %w", transferID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bridge transfer %s not open: %w", transferID, ErrNotFound)
	}
	return nil
}
