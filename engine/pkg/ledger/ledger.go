// Package ledger defines the engine's view of the external distributed
// ledger: balance queries, signed transfer submission, mint-authority
// operations, and confirmation polling. The rest of the engine only ever
// talks to the Client interface; the Solana implementation lives in
// solana.go and an in-memory implementation for dev mode in memory.go.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNetwork covers timeouts and transport failures where the outcome
	// of the submitted operation is unknown.
	ErrNetwork = errors.New("ledger network error")
	// ErrInsufficientFunds is a definitive rejection: the source account
	// cannot cover the transfer.
	ErrInsufficientFunds = errors.New("insufficient funds on ledger")
	// ErrRejectedByLedger is any other definitive rejection of a
	// submitted operation.
	ErrRejectedByLedger = errors.New("rejected by ledger")
)

// TxRef is an opaque ledger transaction reference.
type TxRef string

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
	// TxStatusNotFound means the ledger has no record of the reference.
	// After a submission timeout this is how reconciliation learns the
	// transfer never landed.
	TxStatusNotFound TxStatus = "not_found"
)

// Client is the ledger adapter consumed by the engine. Addresses are opaque
// strings in the format of the underlying network. Amounts are in the
// token's smallest unit.
type Client interface {
	// GetBalance returns the confirmed token balance of an address.
	GetBalance(ctx context.Context, address string) (int64, error)

	// SubmitTransfer submits a signed transfer and returns its reference
	// without waiting for confirmation.
	SubmitTransfer(ctx context.Context, from, to string, amount int64) (TxRef, error)

	// SubmitMint mints new supply to an address. Owner-authority operation.
	SubmitMint(ctx context.Context, to string, amount int64) (TxRef, error)

	// TransactionStatus reports the confirmation state of a previously
	// submitted transaction. A reference unknown to the ledger yields
	// TxStatusNotFound, not an error.
	TransactionStatus(ctx context.Context, ref TxRef) (TxStatus, error)
}
