package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertEarnEvent appends an unsettled earn event.
func (s *Store) InsertEarnEvent(ctx context.Context, eventID uuid.UUID, playerID string, amount int64, reason EarnReason) (EarnEvent, error) {
	var e EarnEvent
	err := s.pool.QueryRow(ctx, `
		INSERT INTO earn_events (event_id, player_id, amount, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id, player_id, amount, reason, created_at, settled, claim_id
	`, eventID, playerID, amount, reason).Scan(
		&e.EventID, &e.PlayerID, &e.Amount, &e.Reason, &e.CreatedAt, &e.Settled, &e.ClaimID,
	)
	if err != nil {
		return EarnEvent{}, fmt.Errorf("failed to insert earn event: %w", err)
	}
	return e, nil
}

// TotalUnsettled returns the sum of every unsettled earn event across all
// players: the pool's outstanding notional liability.
func (s *Store) TotalUnsettled(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM earn_events WHERE NOT settled
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum unsettled earn events: %w", err)
	}
	return total, nil
}

// UnsettledByPlayer returns a player's uncovered, unsettled events, oldest
// first.
func (s *Store) UnsettledByPlayer(ctx context.Context, playerID string) ([]EarnEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, player_id, amount, reason, created_at, settled, claim_id
		FROM earn_events
		WHERE player_id = $1 AND NOT settled AND claim_id IS NULL
		ORDER BY created_at
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled earn events: %w", err)
	}
	defer rows.Close()

	var events []EarnEvent
	for rows.Next() {
		var e EarnEvent
		if err := rows.Scan(&e.EventID, &e.PlayerID, &e.Amount, &e.Reason, &e.CreatedAt, &e.Settled, &e.ClaimID); err != nil {
			return nil, fmt.Errorf("failed to scan earn event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// OpenClaim atomically selects all of a player's uncovered unsettled events,
// derives the claim id from that exact coverage via deriveID, and opens a
// pending claim covering them. Returns the claim and covered events; a nil
// claim id derivation input (no events) yields (Claim{}, nil, nil) without
// opening anything.
func (s *Store) OpenClaim(ctx context.Context, playerID string, deriveID func(eventIDs []uuid.UUID) uuid.UUID) (Claim, []EarnEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Claim{}, nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT event_id, player_id, amount, reason, created_at, settled, claim_id
		FROM earn_events
		WHERE player_id = $1 AND NOT settled AND claim_id IS NULL
		ORDER BY created_at
		FOR UPDATE
	`, playerID)
	if err != nil {
		return Claim{}, nil, fmt.Errorf("failed to select claimable events: %w", err)
	}

	var events []EarnEvent
	var sum int64
	var eventIDs []uuid.UUID
	for rows.Next() {
		var e EarnEvent
		if err := rows.Scan(&e.EventID, &e.PlayerID, &e.Amount, &e.Reason, &e.CreatedAt, &e.Settled, &e.ClaimID); err != nil {
			rows.Close()
			return Claim{}, nil, fmt.Errorf("failed to scan claimable event: %w", err)
		}
		events = append(events, e)
		eventIDs = append(eventIDs, e.EventID)
		sum += e.Amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Claim{}, nil, fmt.Errorf("failed to read claimable events: %w", err)
	}

	if len(events) == 0 {
		return Claim{}, nil, nil
	}

	claimID := deriveID(eventIDs)

	// A retry of the same coverage derives the same claim id as an earlier
	// failed attempt; reopen that row instead of conflicting on it.
	var c Claim
	err = tx.QueryRow(ctx, `
		INSERT INTO claims (claim_id, player_id, requested_amount, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (claim_id) DO UPDATE
		SET status = 'pending', requested_amount = EXCLUDED.requested_amount,
		    tx_ref = NULL, fail_reason = NULL, updated_at = now()
		WHERE claims.status = 'failed'
		RETURNING claim_id, player_id, requested_amount, status, tx_ref, fail_reason, created_at, updated_at
	`, claimID, playerID, sum).Scan(
		&c.ClaimID, &c.PlayerID, &c.RequestedAmount, &c.Status, &c.TxRef, &c.FailReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Claim{}, nil, fmt.Errorf("failed to insert claim: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE earn_events SET claim_id = $1
		WHERE player_id = $2 AND NOT settled AND claim_id IS NULL
	`, claimID, playerID)
	if err != nil {
		return Claim{}, nil, fmt.Errorf("failed to cover earn events: %w", err)
	}
	if tag.RowsAffected() != int64(len(events)) {
		return Claim{}, nil, fmt.Errorf("claim coverage changed mid-transaction: selected %d, covered %d", len(events), tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	for i := range events {
		id := claimID
		events[i].ClaimID = &id
	}
	return c, events, nil
}

// RevertClaimCoverage releases every event covered by a failed claim so a
// future claim can select them again.
func (s *Store) RevertClaimCoverage(ctx context.Context, claimID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE earn_events SET settled = false, claim_id = NULL WHERE claim_id = $1
	`, claimID)
	if err != nil {
		return fmt.Errorf("failed to revert claim coverage: %w", err)
	}
	return nil
}
