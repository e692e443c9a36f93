// Package bridge moves settled tokens to another network with a lock-and-mint
// flow: the source amount is locked in an escrow account, then the net amount
// after the destination's bridge fee is minted on the destination network. A
// failed destination leg refunds the escrow lock. The states the engine
// cannot unwind alone, a lock with no known outcome or a refund that itself
// fails, page the operator instead of being dropped.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/particlerush/tokenengine/engine/pkg/alert"
	"github.com/particlerush/tokenengine/engine/pkg/chains"
	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/metrics"
	"github.com/particlerush/tokenengine/engine/pkg/policy"
	"github.com/particlerush/tokenengine/engine/pkg/store"
)

var (
	// ErrInsufficientSettledBalance means the player's on-ledger balance
	// cannot cover the bridge amount. Unsettled earn events never count.
	ErrInsufficientSettledBalance = errors.New("insufficient settled balance")
	// ErrFeeExceedsAmount means the bridge fee leaves nothing to mint.
	ErrFeeExceedsAmount = errors.New("bridge fee exceeds amount")
)

// Store is the slice of the record store the coordinator needs.
type Store interface {
	CreateBridgeTransfer(ctx context.Context, transferID uuid.UUID, playerID string, sourceChain, destChain uint16, amount, fee int64) (store.BridgeTransfer, error)
	GetBridgeTransfer(ctx context.Context, transferID uuid.UUID) (store.BridgeTransfer, error)
	RecordBridgeLockRef(ctx context.Context, transferID uuid.UUID, lockTxRef string) error
	MarkBridgeLocked(ctx context.Context, transferID uuid.UUID, lockTxRef string) error
	MarkBridgeMinted(ctx context.Context, transferID uuid.UUID, mintTxRef string) error
	MarkBridgeFailed(ctx context.Context, transferID uuid.UUID, refundTxRef *string, reason string) error
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Registry *chains.Registry
	Store    Store
	Alerter  alert.Notifier

	// Clients maps chain id to the ledger adapter for that network. The
	// source chain's client must be present; a destination without one is
	// reported as unsupported.
	Clients map[uint16]ledger.Client

	// SourceChain is the home network where tokens are earned and settled.
	SourceChain uint16
	// EscrowAddress holds locked tokens on the source network.
	EscrowAddress string

	ConfirmTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Registry == nil {
		return errors.New("chain registry is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Alerter == nil {
		return errors.New("alerter is required")
	}
	if cfg.SourceChain == 0 {
		cfg.SourceChain = chains.ChainIDSolana
	}
	if cfg.EscrowAddress == "" {
		return errors.New("escrow address is required")
	}
	if _, ok := cfg.Clients[cfg.SourceChain]; !ok {
		return fmt.Errorf("no ledger client for source chain %d", cfg.SourceChain)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Coordinator struct {
	log *slog.Logger
	cfg Config
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{log: cfg.Logger, cfg: cfg}, nil
}

// Bridge locks amount of the player's settled balance and mints the net
// amount after fees to destAddress on the destination network. The player id
// doubles as the player's source-network address.
func (c *Coordinator) Bridge(ctx context.Context, playerID string, destChain uint16, destAddress string, amount int64) (store.BridgeTransfer, error) {
	destCfg, err := c.cfg.Registry.Resolve(destChain)
	if err != nil {
		return store.BridgeTransfer{}, err
	}
	if err := c.cfg.Registry.ValidateAddress(destChain, destAddress); err != nil {
		return store.BridgeTransfer{}, err
	}
	destClient, ok := c.cfg.Clients[destChain]
	if !ok {
		return store.BridgeTransfer{}, fmt.Errorf("%w: no ledger client for %s", chains.ErrUnsupportedChain, destCfg.Name)
	}

	fee, err := policy.BridgeFee(amount, destCfg)
	if err != nil {
		return store.BridgeTransfer{}, err
	}
	net := amount - fee
	if net <= 0 {
		return store.BridgeTransfer{}, fmt.Errorf("%w: amount %d, fee %d", ErrFeeExceedsAmount, amount, fee)
	}

	// Authoritative balance read. Only settled on-ledger tokens can move;
	// the cached balance is not good enough to gate an escrow lock.
	source := c.cfg.Clients[c.cfg.SourceChain]
	balance, err := source.GetBalance(ctx, playerID)
	if err != nil {
		return store.BridgeTransfer{}, fmt.Errorf("failed to read settled balance: %w", err)
	}
	if balance < amount {
		return store.BridgeTransfer{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSettledBalance, balance, amount)
	}

	transfer, err := c.cfg.Store.CreateBridgeTransfer(ctx, uuid.New(), playerID, c.cfg.SourceChain, destChain, amount, fee)
	if err != nil {
		return store.BridgeTransfer{}, err
	}
	c.log.Info("bridge: transfer initiated",
		"transfer_id", transfer.TransferID,
		"player_id", playerID,
		"dest_chain", destCfg.Name,
		"amount", amount,
		"fee", fee)

	// Leg 1: lock the full amount in escrow on the source network. The
	// submission reference is persisted before confirmation: a lock that
	// times out can still land and move the funds, so its trail must
	// survive whatever happens next.
	lockCtx, lockCancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	lockRef, err := source.SubmitTransfer(lockCtx, playerID, c.cfg.EscrowAddress, amount)
	if err != nil {
		lockCancel()
		if errors.Is(err, ledger.ErrNetwork) {
			// The transfer may have been accepted even though no
			// reference came back.
			return c.lockUnresolved(ctx, transfer, nil, err)
		}
		reason := fmt.Sprintf("source lock failed: %v", err)
		if markErr := c.cfg.Store.MarkBridgeFailed(ctx, transfer.TransferID, nil, reason); markErr != nil {
			c.log.Error("bridge: failed to record lock failure", "transfer_id", transfer.TransferID, "error", markErr)
		}
		metrics.BridgeTransfersTotal.WithLabelValues("failed").Inc()
		transfer.Status = store.BridgeStatusFailed
		transfer.FailReason = &reason
		return transfer, fmt.Errorf("bridge transfer %s: %s", transfer.TransferID, reason)
	}
	lockStr := string(lockRef)
	if err := c.cfg.Store.RecordBridgeLockRef(ctx, transfer.TransferID, lockStr); err != nil {
		lockCancel()
		return store.BridgeTransfer{}, err
	}
	transfer.LockTxRef = &lockStr

	lockStatus, err := c.awaitStatus(lockCtx, source, lockRef)
	lockCancel()
	if err != nil {
		return c.lockUnresolved(ctx, transfer, &lockStr, err)
	}
	if lockStatus == ledger.TxStatusFailed {
		// Definitive rejection; the funds never moved.
		reason := fmt.Sprintf("source lock rejected: transaction %s failed", lockRef)
		if markErr := c.cfg.Store.MarkBridgeFailed(ctx, transfer.TransferID, nil, reason); markErr != nil {
			c.log.Error("bridge: failed to record lock failure", "transfer_id", transfer.TransferID, "error", markErr)
		}
		metrics.BridgeTransfersTotal.WithLabelValues("failed").Inc()
		transfer.Status = store.BridgeStatusFailed
		transfer.FailReason = &reason
		return transfer, fmt.Errorf("bridge transfer %s: %s", transfer.TransferID, reason)
	}
	if err := c.cfg.Store.MarkBridgeLocked(ctx, transfer.TransferID, lockStr); err != nil {
		return store.BridgeTransfer{}, err
	}
	transfer.Status = store.BridgeStatusLockedSource

	// Leg 2: mint the net amount on the destination network.
	mintRef, err := c.submitConfirmed(ctx, destClient, func(ctx context.Context) (ledger.TxRef, error) {
		return destClient.SubmitMint(ctx, destAddress, net)
	})
	if err != nil {
		return c.refund(ctx, transfer, fmt.Sprintf("destination mint failed: %v", err))
	}
	if err := c.cfg.Store.MarkBridgeMinted(ctx, transfer.TransferID, string(mintRef)); err != nil {
		return store.BridgeTransfer{}, err
	}
	mintStr := string(mintRef)
	transfer.Status = store.BridgeStatusMintedDest
	transfer.MintTxRef = &mintStr

	metrics.BridgeTransfersTotal.WithLabelValues("minted").Inc()
	c.log.Info("bridge: transfer completed",
		"transfer_id", transfer.TransferID,
		"lock_tx", lockStr,
		"mint_tx", mintStr,
		"net", net)
	return transfer, nil
}

// GetTransfer returns the current state of a bridge transfer.
func (c *Coordinator) GetTransfer(ctx context.Context, transferID uuid.UUID) (store.BridgeTransfer, error) {
	return c.cfg.Store.GetBridgeTransfer(ctx, transferID)
}

// lockUnresolved terminates a transfer whose lock leg has no known outcome.
// The escrow may or may not have received the funds, so the operator is paged
// with the persisted lock reference to reconcile by hand.
func (c *Coordinator) lockUnresolved(ctx context.Context, transfer store.BridgeTransfer, lockRef *string, cause error) (store.BridgeTransfer, error) {
	reason := fmt.Sprintf("source lock unresolved: %v", cause)
	if markErr := c.cfg.Store.MarkBridgeFailed(ctx, transfer.TransferID, nil, reason); markErr != nil {
		c.log.Error("bridge: failed to record unresolved lock", "transfer_id", transfer.TransferID, "error", markErr)
	}

	detail := fmt.Sprintf("transfer %s: lock of %d tokens from player %s has no confirmed outcome", transfer.TransferID, transfer.Amount, transfer.PlayerID)
	if lockRef != nil {
		detail += fmt.Sprintf(", lock tx %s", *lockRef)
	} else {
		detail += " and the ledger returned no transaction reference"
	}
	c.cfg.Alerter.Notify(ctx, "Bridge lock unresolved", detail)

	metrics.BridgeTransfersTotal.WithLabelValues("lock_unresolved").Inc()
	transfer.Status = store.BridgeStatusFailed
	transfer.FailReason = &reason
	return transfer, fmt.Errorf("bridge transfer %s: %s", transfer.TransferID, reason)
}

// refund returns the locked amount from escrow to the player after a failed
// destination leg.
func (c *Coordinator) refund(ctx context.Context, transfer store.BridgeTransfer, reason string) (store.BridgeTransfer, error) {
	source := c.cfg.Clients[c.cfg.SourceChain]
	refundRef, err := c.submitConfirmed(ctx, source, func(ctx context.Context) (ledger.TxRef, error) {
		return source.SubmitTransfer(ctx, c.cfg.EscrowAddress, transfer.PlayerID, transfer.Amount)
	})
	if err != nil {
		// Tokens are stranded in escrow. Record the failure without a
		// refund reference and page the operator.
		full := fmt.Sprintf("%s; refund failed: %v", reason, err)
		if markErr := c.cfg.Store.MarkBridgeFailed(ctx, transfer.TransferID, nil, full); markErr != nil {
			c.log.Error("bridge: failed to record refund failure", "transfer_id", transfer.TransferID, "error", markErr)
		}
		c.cfg.Alerter.Notify(ctx, "Bridge refund failed",
			fmt.Sprintf("transfer %s: %d tokens locked in escrow for player %s could not be refunded: %v", transfer.TransferID, transfer.Amount, transfer.PlayerID, err))
		metrics.BridgeTransfersTotal.WithLabelValues("refund_failed").Inc()
		transfer.Status = store.BridgeStatusFailed
		transfer.FailReason = &full
		return transfer, fmt.Errorf("bridge transfer %s: %s", transfer.TransferID, full)
	}

	refundStr := string(refundRef)
	if err := c.cfg.Store.MarkBridgeFailed(ctx, transfer.TransferID, &refundStr, reason); err != nil {
		return store.BridgeTransfer{}, err
	}
	metrics.BridgeTransfersTotal.WithLabelValues("refunded").Inc()
	c.log.Warn("bridge: transfer failed and refunded",
		"transfer_id", transfer.TransferID,
		"refund_tx", refundStr,
		"reason", reason)
	transfer.Status = store.BridgeStatusFailed
	transfer.RefundTxRef = &refundStr
	transfer.FailReason = &reason
	return transfer, fmt.Errorf("bridge transfer %s: %s", transfer.TransferID, reason)
}

func (c *Coordinator) submitConfirmed(ctx context.Context, client ledger.Client, submit func(ctx context.Context) (ledger.TxRef, error)) (ledger.TxRef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ref, err := submit(ctx)
	if err != nil {
		return "", err
	}
	status, err := c.awaitStatus(ctx, client, ref)
	if err != nil {
		return ref, err
	}
	if status == ledger.TxStatusFailed {
		return ref, fmt.Errorf("%w: transaction %s failed", ledger.ErrRejectedByLedger, ref)
	}
	return ref, nil
}

// awaitStatus polls until the ledger reports a terminal status or the context
// expires.
func (c *Coordinator) awaitStatus(ctx context.Context, client ledger.Client, ref ledger.TxRef) (ledger.TxStatus, error) {
	backoff := time.Second
	for {
		status, err := client.TransactionStatus(ctx, ref)
		if err == nil {
			switch status {
			case ledger.TxStatusConfirmed, ledger.TxStatusFailed:
				return status, nil
			}
		} else if !errors.Is(err, ledger.ErrNetwork) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: confirmation timed out for %s", ledger.ErrNetwork, ref)
		case <-c.cfg.Clock.After(backoff):
		}
		if backoff *= 2; backoff > 15*time.Second {
			backoff = 15 * time.Second
		}
	}
}
