package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertAccount writes an authoritative balance observation for an account.
func (s *Store) UpsertAccount(ctx context.Context, address string, kind AccountKind, balance int64, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (address, kind, balance, synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address)
		DO UPDATE SET balance = EXCLUDED.balance, synced_at = EXCLUDED.synced_at
	`, address, kind, balance, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", address, err)
	}
	return nil
}

// AdjustAccountBalance applies an optimistic delta to the cached balance
// after a confirmed ledger operation, without touching synced_at.
func (s *Store) AdjustAccountBalance(ctx context.Context, address string, delta int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET balance = balance + $2 WHERE address = $1
	`, address, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust account %s balance: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", address, ErrNotFound)
	}
	return nil
}

// GetAccount returns the cached view of an account.
func (s *Store) GetAccount(ctx context.Context, address string) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, `
		SELECT address, kind, balance, synced_at FROM accounts WHERE address = $1
	`, address).Scan(&a.Address, &a.Kind, &a.Balance, &a.SyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("account %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return a, nil
}
